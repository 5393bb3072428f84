package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/domain/service"
	apperrors "study-forge-api/pkg/errors"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(40))
}

func TestRetryPolicyBudget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, AttemptTimeout: 5 * time.Second}
	assert.Equal(t, 15*time.Second+time.Second+2*time.Second, p.Budget())
	assert.Zero(t, RetryPolicy{MaxAttempts: 3}.Budget())
}

func TestRetryLoopDelaysStrictlyIncrease(t *testing.T) {
	var sleeps []time.Duration
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute}
	_, err := RetryLoop(context.Background(), policy,
		func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
		func(context.Context, int) service.Outcome {
			return service.Retryable(errors.New("overloaded"))
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExternalTransient)
	require.Len(t, sleeps, 3)
	for i := 1; i < len(sleeps); i++ {
		assert.Greater(t, sleeps[i], sleeps[i-1])
	}
}

func TestRetryLoopAppliesAttemptTimeout(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond}
	_, err := RetryLoop(context.Background(), policy, nil, func(ctx context.Context, _ int) service.Outcome {
		<-ctx.Done()
		return service.Retryable(ctx.Err())
	})
	assert.Equal(t, apperrors.KindExternalTransient, apperrors.KindOf(err))
}

func TestRetryLoopStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryLoop(ctx, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, ContextSleep,
		func(context.Context, int) service.Outcome {
			calls++
			cancel()
			return service.Retryable(errors.New("503"))
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestContextSleep(t *testing.T) {
	assert.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}
