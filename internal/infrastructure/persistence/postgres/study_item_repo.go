// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"study-forge-api/internal/domain/entity"
)

const studyItemBatchSize = 100

// StudyItemRepository 生成结果仓储实现
type StudyItemRepository struct {
	client *Client
	tx     *TxManager
}

// NewStudyItemRepository 创建生成结果仓储
func NewStudyItemRepository(client *Client) *StudyItemRepository {
	return &StudyItemRepository{client: client, tx: NewTxManager(client)}
}

// ReplaceForSession 删除旧结果并写入新结果
func (r *StudyItemRepository) ReplaceForSession(ctx context.Context, sessionID string, items []*entity.StudyItem) error {
	ctx, span := tracer.Start(ctx, "postgres.StudyItemRepository.ReplaceForSession")
	defer span.End()

	for i, item := range items {
		item.SessionID = sessionID
		item.Position = i
	}

	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)
		if err := db.Where("session_id = ?", sessionID).Delete(&entity.StudyItem{}).Error; err != nil {
			return fmt.Errorf("failed to clear study items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := db.CreateInBatches(items, studyItemBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert study items: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ListBySession 获取会话结果
func (r *StudyItemRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.StudyItem, error) {
	ctx, span := tracer.Start(ctx, "postgres.StudyItemRepository.ListBySession")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var items []*entity.StudyItem
	if err := db.Where("session_id = ?", sessionID).Order("position ASC").Find(&items).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list study items: %w", err)
	}
	return items, nil
}
