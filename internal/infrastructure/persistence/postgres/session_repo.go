// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	apperrors "study-forge-api/pkg/errors"
)

// SessionRepository 会话仓储实现
type SessionRepository struct {
	client *Client
}

// NewSessionRepository 创建会话仓储
func NewSessionRepository(client *Client) *SessionRepository {
	return &SessionRepository{client: client}
}

// Create 创建会话及其文件
func (r *SessionRepository) Create(ctx context.Context, session *entity.Session) error {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrConflict.WithDetail("session_id=" + session.ID)
		}
		span.RecordError(err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取会话，不存在时返回 nil
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var session entity.Session
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListFiles 获取会话文件
func (r *SessionRepository) ListFiles(ctx context.Context, sessionID string) ([]*entity.SessionFile, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.ListFiles")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var files []*entity.SessionFile
	if err := db.Where("session_id = ?", sessionID).Order("position ASC").Find(&files).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}
	return files, nil
}

// TransitionStatus 更新状态，终态行不受影响
func (r *SessionRepository) TransitionStatus(ctx context.Context, id string, update repository.StatusUpdate) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.TransitionStatus")
	span.SetAttributes(
		attribute.String("session.id", id),
		attribute.String("session.status", string(update.Status)),
	)
	defer span.End()

	values := map[string]any{
		"status":        update.Status,
		"error_kind":    update.ErrorKind,
		"error_message": update.ErrorMessage,
		"updated_at":    time.Now(),
	}
	if update.StartedAt != nil {
		values["started_at"] = *update.StartedAt
	}
	if update.CompletedAt != nil {
		values["completed_at"] = *update.CompletedAt
	}

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Session{}).
		Where("id = ? AND status NOT IN ?", id, entity.TerminalStatuses).
		Updates(values)
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to update session status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IncrementAttempts 递增尝试次数
func (r *SessionRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.IncrementAttempts")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var attempts []int
	if err := db.Raw(
		"UPDATE study_sessions SET attempts = attempts + 1, updated_at = NOW() WHERE id = ? RETURNING attempts", id,
	).Scan(&attempts).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	if len(attempts) == 0 {
		return 0, apperrors.ErrSessionNotFound.WithDetail("session_id=" + id)
	}
	return attempts[0], nil
}

// ListStale 获取超时仍未结束的会话
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*entity.Session, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.ListStale")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var sessions []*entity.Session
	if err := db.
		Where("status IN ? AND started_at < ?",
			[]entity.SessionStatus{entity.SessionStatusProcessing, entity.SessionStatusRetrying}, before).
		Order("started_at ASC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	return sessions, nil
}
