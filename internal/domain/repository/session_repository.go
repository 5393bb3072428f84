// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"study-forge-api/internal/domain/entity"
)

// SessionRepository 会话仓储接口
type SessionRepository interface {
	// Create 创建会话及其文件
	Create(ctx context.Context, session *entity.Session) error

	// GetByID 根据 ID 获取会话（不含文件内容）
	GetByID(ctx context.Context, id string) (*entity.Session, error)

	// ListFiles 获取会话文件（含内容）
	ListFiles(ctx context.Context, sessionID string) ([]*entity.SessionFile, error)

	// TransitionStatus 更新会话状态，终态会话不会被改写
	// 返回 false 表示会话不存在或已处于终态
	TransitionStatus(ctx context.Context, id string, update StatusUpdate) (bool, error)

	// IncrementAttempts 递增尝试次数，返回新值
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// ListStale 获取 started_at 早于 before 且仍在处理中的会话
	ListStale(ctx context.Context, before time.Time, limit int) ([]*entity.Session, error)
}

// StatusUpdate 状态更新内容
type StatusUpdate struct {
	Status       entity.SessionStatus
	ErrorKind    string
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
