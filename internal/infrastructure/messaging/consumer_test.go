package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/domain/entity"
)

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestConsumerDeliversAndAcks(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamSessionProcess,
		Group:        ConsumerGroupPipeline,
		ConsumerName: "worker-0",
		BlockTimeout: 50 * time.Millisecond,
		RetryLimit:   5,
	})

	var (
		mu       sync.Mutex
		received []SessionTaskMessage
	)
	done := make(chan struct{}, 1)
	consumer.RegisterHandler(MessageTypeSessionProcess, func(ctx context.Context, msg *Message) error {
		var task SessionTaskMessage
		if err := msg.UnmarshalPayload(&task); err != nil {
			return err
		}
		mu.Lock()
		received = append(received, task)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	go func() { _ = consumer.Run(ctx) }()
	defer consumer.Stop()

	producer := NewProducer(rdb, 0)
	_, err := producer.PublishSessionTask(ctx, &SessionTaskMessage{
		SessionID: "s1",
		UserID:    "u1",
		Files:     []entity.InputFile{{Name: "a.txt", Data: []byte("abc")}},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("message was not delivered")
	}

	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, "s1", received[0].SessionID)
	assert.Equal(t, []byte("abc"), received[0].Files[0].Data)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		pending, err := rdb.XPending(ctx, string(StreamSessionProcess), string(ConsumerGroupPipeline)).Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond, "handled message is acked")
}

func TestConsumerMovesExhaustedMessageToDLQ(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamSessionProcess,
		Group:        ConsumerGroupPipeline,
		ConsumerName: "worker-0",
		BlockTimeout: 20 * time.Millisecond,
		RetryLimit:   2,
		Backoff:      FixedBackoff(10 * time.Millisecond),
	})

	var (
		mu       sync.Mutex
		attempts int
	)
	consumer.RegisterHandler(MessageTypeSessionProcess, func(context.Context, *Message) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return ErrRetryLater
	})
	go func() { _ = consumer.Run(ctx) }()
	defer consumer.Stop()

	_, err := NewProducer(rdb, 0).PublishSessionTask(ctx, &SessionTaskMessage{SessionID: "s1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, StreamSessionProcess.DLQStream()).Result()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond, "exhausted message is dead-lettered")

	assert.Eventually(t, func() bool {
		pending, err := rdb.XPending(ctx, string(StreamSessionProcess), string(ConsumerGroupPipeline)).Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()

	entries, err := rdb.XRange(ctx, StreamSessionProcess.DLQStream(), "-", "+").Result()
	require.NoError(t, err)
	assert.Equal(t, string(StreamSessionProcess), entries[0].Values["original_stream"])
}

func TestConsumerRunsDeadLetterHandlerBeforeDLQ(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamSessionProcess,
		Group:        ConsumerGroupPipeline,
		ConsumerName: "worker-0",
		BlockTimeout: 20 * time.Millisecond,
		RetryLimit:   1,
		Backoff:      FixedBackoff(10 * time.Millisecond),
	})
	consumer.RegisterHandler(MessageTypeSessionProcess, func(context.Context, *Message) error {
		return errors.New("store unavailable")
	})

	var (
		mu       sync.Mutex
		sessions []string
	)
	consumer.RegisterDeadLetterHandler(MessageTypeSessionProcess, func(_ context.Context, msg *Message, reason error) error {
		mu.Lock()
		defer mu.Unlock()
		sessions = append(sessions, msg.SessionID)
		if len(sessions) == 1 {
			return errors.New("database down")
		}
		return nil
	})
	go func() { _ = consumer.Run(ctx) }()
	defer consumer.Stop()

	_, err := NewProducer(rdb, 0).PublishSessionTask(ctx, &SessionTaskMessage{SessionID: "s1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, StreamSessionProcess.DLQStream()).Result()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"s1", "s1"}, sessions)
	mu.Unlock()
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, EnsureGroup(ctx, rdb, StreamSessionProcess, ConsumerGroupPipeline))
	require.NoError(t, EnsureGroup(ctx, rdb, StreamSessionProcess, ConsumerGroupPipeline))
}

func TestBackoff(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.CalculateBackoff(0))
	assert.Equal(t, 4*time.Second, b.CalculateBackoff(2))
	assert.Equal(t, 5*time.Second, b.CalculateBackoff(10))

	fixed := FixedBackoff(time.Minute)
	assert.Equal(t, time.Minute, fixed.CalculateBackoff(1))
	assert.Equal(t, time.Minute, fixed.CalculateBackoff(3))
}
