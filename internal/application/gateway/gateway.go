// Package gateway 提供带缓存、重试与计费的生成调用入口
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"study-forge-api/internal/application/billing"
	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
	"study-forge-api/internal/infrastructure/persistence/redis"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

var tracer = otel.Tracer("gateway")

// ResponseCache 响应缓存
type ResponseCache interface {
	Get(ctx context.Context, key string) (*redis.CachedResponse, bool, error)
	Put(ctx context.Context, key string, value *redis.CachedResponse, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CreditLedger 额度账本
type CreditLedger interface {
	CheckAvailable(ctx context.Context, userID string, cost int64) (bool, error)
	Deduct(ctx context.Context, userID string, cost int64, reason string) (int64, error)
}

// ProviderResolver 按模型查找提供商
type ProviderResolver interface {
	Resolve(model string) (service.Provider, error)
}

// CompletionRequest 生成请求
type CompletionRequest struct {
	Model     string
	Messages  []service.ChatMessage
	Params    service.GenerationParams
	UserID    string
	SessionID string
}

// Completion 生成结果
type Completion struct {
	Text     string
	Usage    service.TokenUsage
	Model    string
	Provider string
	Cached   bool
	Cost     int64
}

// Gateway 生成调用网关
type Gateway struct {
	cfg       config.GatewayConfig
	policy    RetryPolicy
	cache     ResponseCache
	ledger    CreditLedger
	rates     *billing.RateTable
	providers ProviderResolver
	usage     service.UsageRecorder
	limiter   *rate.Limiter
	sleep     SleepFunc
	group     singleflight.Group
}

// Option 网关选项
type Option func(*Gateway)

// WithSleep 替换重试等待函数
func WithSleep(fn SleepFunc) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// New 创建网关
func New(cfg config.GatewayConfig, cache ResponseCache, ledger CreditLedger, rates *billing.RateTable,
	providers ProviderResolver, usage service.UsageRecorder, opts ...Option) *Gateway {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	g := &Gateway{
		cfg:       cfg,
		policy:    PolicyFromConfig(cfg),
		cache:     cache,
		ledger:    ledger,
		rates:     rates,
		providers: providers,
		usage:     usage,
		limiter:   rate.NewLimiter(limit, burst),
		sleep:     ContextSleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete 执行一次生成请求
// 缓存命中不扣费；真实调用成功后按实际 token 扣费，扣费失败时不返回结果也不写缓存
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	key := CacheKey(req.Model, req.Messages, req.Params)
	ctx, span := tracer.Start(ctx, "gateway.Complete",
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.String("cache.key", key),
			attribute.String("session.id", req.SessionID),
		))
	defer span.End()

	if c, ok := g.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		g.recordUsage(ctx, req, c, 0)
		return c, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 同进程内相同请求合并，只有执行者真实调用与扣费
	c, owner, err := g.shared(ctx, key, req)
	if err != nil && !owner && ctx.Err() == nil && isContextErr(err) {
		// 共享调用自身超时，本调用方仍有时间，重新发起一次
		c, owner, err = g.shared(ctx, key, req)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := *c
	if !owner {
		out.Cached = true
		out.Cost = 0
		g.recordUsage(ctx, req, &out, 0)
	}
	return &out, nil
}

// flight 合并调用的结果，owner 标识实际执行调用的一方
type flight struct {
	c     *Completion
	owner *int
}

// shared 加入或发起合并调用
// 调用本身脱离发起方的取消，只受重试策略总时长约束；每个调用方只等待到自己的 ctx 结束
func (g *Gateway) shared(ctx context.Context, key string, req CompletionRequest) (*Completion, bool, error) {
	token := new(int)
	ch := g.group.DoChan(key+"|"+req.UserID, func() (any, error) {
		cctx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
		if budget := g.policy.Budget(); budget > 0 {
			cctx, cancel = context.WithTimeout(cctx, budget)
		}
		defer cancel()
		c, err := g.call(cctx, key, req)
		return &flight{c: c, owner: token}, err
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		f := res.Val.(*flight)
		return f.c, f.owner == token, res.Err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Evict 删除请求对应的缓存条目
func (g *Gateway) Evict(ctx context.Context, req CompletionRequest) error {
	return g.cache.Delete(ctx, CacheKey(req.Model, req.Messages, req.Params))
}

func (g *Gateway) lookup(ctx context.Context, key string) (*Completion, bool) {
	cached, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		// 缓存不可用时直接调用提供商
		logger.Warn(ctx, "response cache lookup failed", "cache_key", key, "error", err.Error())
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Completion{
		Text:     cached.Text,
		Usage:    service.TokenUsage{InputTokens: cached.InputTokens, OutputTokens: cached.OutputTokens},
		Model:    cached.Model,
		Provider: cached.Provider,
		Cached:   true,
	}, true
}

func (g *Gateway) call(ctx context.Context, key string, req CompletionRequest) (*Completion, error) {
	// 等待合并期间其他进程可能已写入缓存
	if c, ok := g.lookup(ctx, key); ok {
		g.recordUsage(ctx, req, c, 0)
		return c, nil
	}

	billable := req.UserID != ""
	if billable {
		estimate := g.rates.Cost(req.Model,
			billing.EstimateInputTokens(req.Messages),
			billing.EstimateOutputTokens(req.Params, g.cfg.DefaultOutputTokens))
		ok, err := g.ledger.CheckAvailable(ctx, req.UserID, estimate)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.InsufficientCreditsTotal.WithLabelValues("advisory").Inc()
			return nil, apperrors.ErrInsufficientCredits.
				WithDetail(fmt.Sprintf("user_id=%s estimated=%d", req.UserID, estimate))
		}
	}

	provider, err := g.providers.Resolve(req.Model)
	if err != nil {
		return nil, apperrors.ExternalFatal(err)
	}

	start := time.Now()
	raw, err := RetryLoop(ctx, g.policy, g.sleep, func(ctx context.Context, attempt int) service.Outcome {
		if attempt > 1 {
			metrics.LLMRetriesTotal.WithLabelValues(req.Model).Inc()
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return service.Retryable(err)
		}
		return provider.RawComplete(ctx, req.Model, req.Messages, req.Params)
	})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	c := &Completion{
		Text:     raw.Text,
		Usage:    raw.Usage,
		Model:    req.Model,
		Provider: provider.Name(),
	}

	if billable {
		c.Cost = g.rates.Cost(req.Model, raw.Usage.InputTokens, raw.Usage.OutputTokens)
		if _, err := g.ledger.Deduct(ctx, req.UserID, c.Cost, billing.DeductReason(req.Model)); err != nil {
			return nil, err
		}
	}
	g.recordUsage(ctx, req, c, elapsed)

	if err := g.cache.Put(ctx, key, &redis.CachedResponse{
		Text:         c.Text,
		InputTokens:  c.Usage.InputTokens,
		OutputTokens: c.Usage.OutputTokens,
		Model:        c.Model,
		Provider:     c.Provider,
	}, g.cfg.CacheTTL); err != nil {
		logger.Warn(ctx, "response cache write failed", "cache_key", key, "error", err.Error())
	}
	return c, nil
}

// recordUsage 写入使用记录，失败只记日志
func (g *Gateway) recordUsage(ctx context.Context, req CompletionRequest, c *Completion, elapsed time.Duration) {
	if g.usage == nil {
		return
	}
	err := g.usage.Record(ctx, service.UsageInput{
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		Workflow:     service.WorkflowFromContext(ctx),
		Provider:     c.Provider,
		Model:        req.Model,
		InputTokens:  c.Usage.InputTokens,
		OutputTokens: c.Usage.OutputTokens,
		Cost:         c.Cost,
		Cached:       c.Cached,
		DurationMs:   int(elapsed.Milliseconds()),
	})
	if err != nil {
		logger.Warn(ctx, "usage record write failed", "error", err.Error())
	}
}
