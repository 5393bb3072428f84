package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// slidingWindowScript 清理窗口外记录、计数并在未超限时登记本次请求
// KEYS[1] 限流键；ARGV: now_ms, window_ms, limit, member
// 返回 {allowed(0/1), count}
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return {0, count}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window * 2)
return {1, count + 1}
`)

// RateLimiter 基于有序集合的滑动窗口限流
type RateLimiter struct {
	client *Client
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow 判断并登记一次请求
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow",
		trace.WithAttributes(
			attribute.String("ratelimit.key", key),
			attribute.Int("ratelimit.limit", limit),
		))
	defer span.End()

	res, err := slidingWindowScript.Run(ctx, l.client.rdb, []string{key},
		time.Now().UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	allowed := res[0] == 1
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", allowed),
		attribute.Int64("ratelimit.count", res[1]),
	)
	return allowed, nil
}

// Remaining 窗口内剩余次数
func (l *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Remaining",
		trace.WithAttributes(attribute.String("ratelimit.key", key)))
	defer span.End()

	since := time.Now().Add(-window).UnixMilli()
	n, err := l.client.rdb.ZCount(ctx, key, fmt.Sprintf("(%d", since), "+inf").Result()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return max(limit-int(n), 0), nil
}

// BuildRateLimitKey 限流键：ratelimit:{subject}:{scope}
func BuildRateLimitKey(subject, scope string) string {
	return "ratelimit:" + subject + ":" + scope
}
