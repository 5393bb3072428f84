package gateway

import (
	"context"
	"time"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// PolicyFromConfig 从网关配置创建重试策略
func PolicyFromConfig(cfg config.GatewayConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

// Delay 第 attempt 次失败后的等待时间：base * 2^(attempt-1)，不超过 MaxDelay
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Budget 全部尝试与等待的总时长上限，AttemptTimeout 未设置时为 0
func (p RetryPolicy) Budget() time.Duration {
	if p.AttemptTimeout <= 0 {
		return 0
	}
	attempts := max(p.MaxAttempts, 1)
	total := time.Duration(attempts) * p.AttemptTimeout
	for i := 1; i < attempts; i++ {
		total += p.Delay(i)
	}
	return total
}

// SleepFunc 等待指定时长，ctx 结束时提前返回
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep 基于定时器的等待
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AttemptFunc 单次调用
type AttemptFunc func(ctx context.Context, attempt int) service.Outcome

// RetryLoop 执行有界重试
// Fatal 立即返回 ExternalFatal；重试耗尽返回 ExternalTransient；外层 ctx 结束返回 ctx.Err()
func RetryLoop(ctx context.Context, policy RetryPolicy, sleep SleepFunc, fn AttemptFunc) (*service.RawCompletion, error) {
	if sleep == nil {
		sleep = ContextSleep
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		}
		out := fn(attemptCtx, attempt)
		cancel()

		switch out.Kind {
		case service.OutcomeOK:
			return out.Completion, nil
		case service.OutcomeFatal:
			return nil, apperrors.ExternalFatal(out.Err)
		}

		lastErr = out.Err
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn(ctx, "generative call failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay.String(),
			"error", errString(lastErr),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, apperrors.ExternalTransient(lastErr)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
