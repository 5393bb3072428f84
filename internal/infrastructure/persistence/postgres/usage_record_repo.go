// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"study-forge-api/internal/domain/entity"
)

type UsageRecordRepository struct {
	client *Client
}

func NewUsageRecordRepository(client *Client) *UsageRecordRepository {
	return &UsageRecordRepository{client: client}
}

func (r *UsageRecordRepository) Create(ctx context.Context, record *entity.UsageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

func (r *UsageRecordRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.UsageRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.ListBySession")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var records []*entity.UsageRecord
	if err := db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&records).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}
