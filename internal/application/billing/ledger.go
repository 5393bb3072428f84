package billing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/internal/domain/repository"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

var tracer = otel.Tracer("billing")

// Ledger 用户额度账本
type Ledger struct {
	repo repository.CreditRepository
}

// NewLedger 创建账本
func NewLedger(repo repository.CreditRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Balance 查询余额
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.repo.GetBalance(ctx, userID)
}

// CheckAvailable 预检余额是否足够
// 结果仅供参考，并发扣减以 Deduct 为准
func (l *Ledger) CheckAvailable(ctx context.Context, userID string, cost int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "ledger.CheckAvailable",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("credits.cost", cost),
		))
	defer span.End()

	balance, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Int64("credits.balance", balance))
	return balance >= cost, nil
}

// Deduct 原子扣减，余额不足返回 InsufficientCredits 且余额不变
func (l *Ledger) Deduct(ctx context.Context, userID string, cost int64, reason string) (int64, error) {
	ctx, span := tracer.Start(ctx, "ledger.Deduct",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("credits.cost", cost),
		))
	defer span.End()

	if cost <= 0 {
		return 0, apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("deduct amount must be positive, got %d", cost))
	}

	sessionID, _ := ctx.Value(logger.SessionIDKey).(string)
	balance, ok, err := l.repo.Deduct(ctx, userID, cost, reason, sessionID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if !ok {
		metrics.InsufficientCreditsTotal.WithLabelValues("deduct").Inc()
		available, _ := l.repo.GetBalance(ctx, userID)
		logger.Warn(ctx, "credit deduction refused",
			"cost", cost,
			"available", available,
			"reason", reason,
		)
		return available, apperrors.InsufficientCredits(userID, cost, available)
	}

	metrics.CreditsDeductedTotal.WithLabelValues(modelLabel(reason)).Add(float64(cost))
	span.SetAttributes(attribute.Int64("credits.balance", balance))
	return balance, nil
}

// Credit 充值，账户不存在时创建
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	ctx, span := tracer.Start(ctx, "ledger.Credit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("credits.amount", amount),
		))
	defer span.End()

	if amount <= 0 {
		return 0, apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("credit amount must be positive, got %d", amount))
	}
	balance, err := l.repo.Credit(ctx, userID, amount, reason)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	logger.Info(ctx, "credits added", "amount", amount, "balance", balance, "reason", reason)
	return balance, nil
}

// DeductReason 生成调用的扣减原因，格式 generation:{model}
func DeductReason(model string) string {
	return "generation:" + model
}

// modelLabel 从扣减原因中取出模型作为指标标签
func modelLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 && i < len(reason)-1 {
		return reason[i+1:]
	}
	return "unknown"
}
