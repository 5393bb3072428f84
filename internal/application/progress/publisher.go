// Package progress 发布会话进度与错误记录
package progress

import (
	"context"
	"time"

	"study-forge-api/internal/domain/entity"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

// Store 进度存储
type Store interface {
	SetProgress(ctx context.Context, sessionID string, rec entity.ProgressRecord, ttl time.Duration) (bool, error)
	SetError(ctx context.Context, sessionID string, rec entity.ErrorRecord, ttl time.Duration) error
}

// Publisher 进度发布器
// 写入失败只记录日志，不影响流水线
type Publisher struct {
	store Store
	ttl   time.Duration
}

// NewPublisher 创建进度发布器
func NewPublisher(store Store, ttl time.Duration) *Publisher {
	return &Publisher{store: store, ttl: ttl}
}

// Publish 写入会话状态进度，百分比截断到 0-100
func (p *Publisher) Publish(ctx context.Context, sessionID, stage string, percent int, message string) {
	p.write(ctx, sessionID, entity.ProgressRecord{Stage: stage, Percent: percent, Message: message})
}

// PublishStep 写入 processing 期间某个步骤的进度
func (p *Publisher) PublishStep(ctx context.Context, sessionID, step string, percent int, message string) {
	p.write(ctx, sessionID, entity.ProgressRecord{
		Stage:   string(entity.SessionStatusProcessing),
		Step:    step,
		Percent: percent,
		Message: message,
	})
}

func (p *Publisher) write(ctx context.Context, sessionID string, rec entity.ProgressRecord) {
	rec.Percent = clamp(rec.Percent)
	rec.UpdatedAt = time.Now().UTC()
	written, err := p.store.SetProgress(ctx, sessionID, rec, p.ttl)
	if err != nil {
		metrics.ProgressPublishErrors.WithLabelValues("progress").Inc()
		logger.Warn(ctx, "progress publish failed",
			"stage", rec.Stage,
			"step", rec.Step,
			"percent", rec.Percent,
			"error", err.Error(),
		)
		return
	}
	if !written {
		logger.Debug(ctx, "progress already terminal, update skipped", "stage", rec.Stage)
	}
}

// PublishError 写入错误记录
func (p *Publisher) PublishError(ctx context.Context, sessionID, kind, message string, diagnostics map[string]any) {
	err := p.store.SetError(ctx, sessionID, entity.ErrorRecord{
		Kind:        kind,
		Message:     message,
		Diagnostics: diagnostics,
		OccurredAt:  time.Now().UTC(),
	}, p.ttl)
	if err != nil {
		metrics.ProgressPublishErrors.WithLabelValues("error").Inc()
		logger.Warn(ctx, "error record publish failed", "kind", kind, "error", err.Error())
	}
}

func clamp(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
