package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

// CacheKeyPrefix 响应缓存键前缀
const CacheKeyPrefix = "llmcache:"

const clearBatchSize = 500

var cacheTracer = otel.Tracer("redis.cache")

// CachedResponse 缓存的生成结果
type CachedResponse struct {
	Text         string    `json:"text"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResponseCache 生成结果缓存
// 条目只靠 TTL 过期，不做新鲜度校验
type ResponseCache struct {
	client *Client
}

// NewResponseCache 创建响应缓存
func NewResponseCache(client *Client) *ResponseCache {
	return &ResponseCache{client: client}
}

// Get 读取缓存，未命中返回 ok=false
// 无法解析的条目按未命中处理
func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if IsNil(err) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
			return nil, false, nil
		}
		span.RecordError(err)
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}

	var resp CachedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		logger.Warn(ctx, "corrupt cache entry treated as miss", "cache_key", key, "error", err.Error())
		span.SetAttributes(attribute.Bool("cache.hit", false), attribute.Bool("cache.corrupt", true))
		metrics.CacheLookupsTotal.WithLabelValues("corrupt").Inc()
		return nil, false, nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return &resp, true, nil
}

// Put 写入缓存
func (c *ResponseCache) Put(ctx context.Context, key string, value *CachedResponse, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Put",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	if value.CreatedAt.IsZero() {
		value.CreatedAt = time.Now().UTC()
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.client.rdb.Set(ctx, key, bytes, ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Delete 删除缓存条目
func (c *ResponseCache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	return c.client.rdb.Del(ctx, keys...).Err()
}

// Clear 按模式清理缓存，返回删除数量
// 模式始终限定在缓存前缀下，空模式清理全部缓存
func (c *ResponseCache) Clear(ctx context.Context, pattern string) (int, error) {
	if !strings.HasPrefix(pattern, CacheKeyPrefix) {
		pattern = CacheKeyPrefix + pattern
	}
	if pattern == CacheKeyPrefix {
		pattern += "*"
	}

	ctx, span := cacheTracer.Start(ctx, "cache.Clear",
		trace.WithAttributes(attribute.String("cache.pattern", pattern)))
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, pattern, clearBatchSize).Iterator()
	batch := make([]string, 0, clearBatchSize)
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= clearBatchSize {
			if err := flush(); err != nil {
				span.RecordError(err)
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return deleted, err
	}
	if err := flush(); err != nil {
		span.RecordError(err)
		return deleted, err
	}

	span.SetAttributes(attribute.Int("cache.invalidated_count", deleted))
	return deleted, nil
}
