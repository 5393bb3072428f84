// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"study-forge-api/internal/domain/entity"
)

type UsageRecordRepository interface {
	Create(ctx context.Context, record *entity.UsageRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]*entity.UsageRecord, error)
}
