// Package pipeline 驱动上传会话从提交到终态的处理流程
package pipeline

import (
	"context"
	"time"

	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/infrastructure/messaging"
)

// Locker 分布式锁
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration, blocking bool, blockingTimeout time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) (bool, error)
	IsLocked(ctx context.Context, name string) (bool, error)
}

// StateStore 共享状态：进度、错误记录与输入暂存
type StateStore interface {
	GetProgress(ctx context.Context, sessionID string) (*entity.ProgressRecord, bool, error)
	GetError(ctx context.Context, sessionID string) (*entity.ErrorRecord, error)
	SaveInput(ctx context.Context, sessionID string, files []entity.InputFile, ttl time.Duration) error
	LoadInput(ctx context.Context, sessionID string) ([]entity.InputFile, bool, error)
	DeleteInput(ctx context.Context, sessionID string) error
}

// ProgressPublisher 进度发布
type ProgressPublisher interface {
	Publish(ctx context.Context, sessionID, stage string, percent int, message string)
	PublishStep(ctx context.Context, sessionID, step string, percent int, message string)
	PublishError(ctx context.Context, sessionID, kind, message string, diagnostics map[string]any)
}

// Extractor 文本提取
type Extractor interface {
	Extract(ctx context.Context, data []byte, fileName string) (string, error)
}

// Generator 由文本片段生成学习条目
type Generator interface {
	Generate(ctx context.Context, userID, sessionID string, chunk Chunk) ([]*entity.StudyItem, error)
}

// TaskQueue 任务队列
type TaskQueue interface {
	PublishSessionTask(ctx context.Context, task *messaging.SessionTaskMessage) (string, error)
}

// LockName 会话锁名称
func LockName(sessionID string) string {
	return "session:" + sessionID
}
