package billing

import (
	"context"
	"fmt"
	"strings"

	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	"study-forge-api/internal/domain/service"
	"study-forge-api/pkg/metrics"
)

// UsageRecorder 写入使用记录
// 扣减在网关中完成，这里只负责落库与指标
type UsageRecorder struct {
	usageRepo repository.UsageRecordRepository
}

// NewUsageRecorder 创建使用记录器
func NewUsageRecorder(usageRepo repository.UsageRecordRepository) *UsageRecorder {
	return &UsageRecorder{usageRepo: usageRepo}
}

// Record 写入一条使用记录
func (r *UsageRecorder) Record(ctx context.Context, in service.UsageInput) error {
	if r == nil || r.usageRepo == nil {
		return nil
	}
	if in.InputTokens < 0 || in.OutputTokens < 0 || in.Cost < 0 {
		return fmt.Errorf("invalid usage: input=%d output=%d cost=%d", in.InputTokens, in.OutputTokens, in.Cost)
	}

	model := strings.TrimSpace(in.Model)
	if !in.Cached {
		metrics.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(in.InputTokens))
		metrics.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(in.OutputTokens))
	}

	return r.usageRepo.Create(ctx, &entity.UsageRecord{
		UserID:       strings.TrimSpace(in.UserID),
		SessionID:    strings.TrimSpace(in.SessionID),
		Workflow:     strings.TrimSpace(in.Workflow),
		Provider:     strings.TrimSpace(in.Provider),
		Model:        model,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		Cost:         in.Cost,
		Cached:       in.Cached,
		DurationMs:   in.DurationMs,
	})
}
