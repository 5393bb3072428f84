package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/pkg/metrics"
)

const (
	lockKeyPrefix       = "lock:"
	defaultPollInterval = 100 * time.Millisecond
)

// 仅当持有者令牌匹配时才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockManager 基于 SET NX 的分布式锁
// 锁不续期，只依赖 TTL 兜底释放
type LockManager struct {
	client       *Client
	pollInterval time.Duration
}

// NewLockManager 创建锁管理器
func NewLockManager(client *Client, pollInterval time.Duration) *LockManager {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &LockManager{client: client, pollInterval: pollInterval}
}

// LockKey 锁在 Redis 中的键
func LockKey(name string) string {
	return lockKeyPrefix + name
}

// Acquire 获取锁
// blocking=false 时只尝试一次；blocking=true 时按固定间隔轮询直到成功、
// 超过 blockingTimeout 或 ctx 结束。blockingTimeout<=0 表示只受 ctx 约束。
// 超时返回 ok=false，不视为错误。
func (m *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration, blocking bool, blockingTimeout time.Duration) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "lock.Acquire",
		trace.WithAttributes(
			attribute.String("lock.name", name),
			attribute.Int64("lock.ttl_ms", ttl.Milliseconds()),
			attribute.Bool("lock.blocking", blocking),
		))
	defer span.End()

	token := uuid.NewString()
	key := LockKey(name)

	var deadline <-chan time.Time
	if blocking && blockingTimeout > 0 {
		timer := time.NewTimer(blockingTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		ok, err := m.client.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			span.RecordError(err)
			metrics.LockAcquireTotal.WithLabelValues("error").Inc()
			return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			span.SetAttributes(attribute.Bool("lock.acquired", true))
			metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
			return token, true, nil
		}
		if !blocking {
			break
		}

		select {
		case <-ctx.Done():
			span.SetAttributes(attribute.Bool("lock.acquired", false))
			metrics.LockAcquireTotal.WithLabelValues("contended").Inc()
			return "", false, ctx.Err()
		case <-deadline:
			span.SetAttributes(attribute.Bool("lock.acquired", false))
			metrics.LockAcquireTotal.WithLabelValues("contended").Inc()
			return "", false, nil
		case <-time.After(m.pollInterval):
		}
	}

	span.SetAttributes(attribute.Bool("lock.acquired", false))
	metrics.LockAcquireTotal.WithLabelValues("contended").Inc()
	return "", false, nil
}

// Release 释放锁，仅当令牌匹配时生效
// 锁已过期或被他人持有时返回 false
func (m *LockManager) Release(ctx context.Context, name, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "lock.Release",
		trace.WithAttributes(attribute.String("lock.name", name)))
	defer span.End()

	n, err := releaseScript.Run(ctx, m.client.rdb, []string{LockKey(name)}, token).Int64()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("release lock %s: %w", name, err)
	}
	span.SetAttributes(attribute.Bool("lock.released", n == 1))
	return n == 1, nil
}

// IsLocked 检查锁是否被持有
func (m *LockManager) IsLocked(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "lock.IsLocked",
		trace.WithAttributes(attribute.String("lock.name", name)))
	defer span.End()

	n, err := m.client.rdb.Exists(ctx, LockKey(name)).Result()
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return n == 1, nil
}
