// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"study-forge-api/internal/domain/entity"
)

// StudyItemRepository 生成结果仓储接口
type StudyItemRepository interface {
	// ReplaceForSession 用新结果替换会话已有结果（重复执行结果一致）
	ReplaceForSession(ctx context.Context, sessionID string, items []*entity.StudyItem) error

	// ListBySession 获取会话结果
	ListBySession(ctx context.Context, sessionID string) ([]*entity.StudyItem, error)
}
