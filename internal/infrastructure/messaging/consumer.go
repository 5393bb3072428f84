package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

// ErrRetryLater 处理器要求稍后重投递，消息保持 pending，按退避间隔重新认领
var ErrRetryLater = errors.New("message left pending for redelivery")

// MessageHandler 消息处理函数
// 返回 nil 确认消息；返回错误时消息保持 pending，投递次数达到上限后进入死信队列
type MessageHandler func(ctx context.Context, msg *Message) error

// DeadLetterHandler 消息写入死信流前调用
// 返回错误时消息保持 pending，下一轮再进入死信流程
type DeadLetterHandler func(ctx context.Context, msg *Message, reason error) error

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	// ReclaimIdle 其他消费者的 pending 消息空闲超过该时长才会被接管
	ReclaimIdle time.Duration
	// RetryLimit 投递次数上限
	RetryLimit int
	// Count 单次读取的消息数（预取数量）
	Count   int64
	Backoff BackoffConfig
}

func (cfg *ConsumerConfig) applyDefaults() {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 5 * time.Minute
		if twice := 2 * cfg.Backoff.Max; twice > cfg.ReclaimIdle {
			cfg.ReclaimIdle = twice
		}
	}
}

// Consumer Redis Streams 消费者组成员
//
// 每轮循环依次处理：到期的 pending 消息（自己的按退避间隔，其他消费者的按 ReclaimIdle），
// 然后阻塞读取新消息。投递次数达到 RetryLimit 的消息写入死信流并确认。
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig

	mu           sync.RWMutex
	handlers     map[string]MessageHandler
	deadHandlers map[string]DeadLetterHandler
	running      bool
	stopCh   chan struct{}
}

// NewConsumer 创建消息消费者
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	cfg.applyDefaults()
	return &Consumer{
		client:       client,
		cfg:          cfg,
		handlers:     make(map[string]MessageHandler),
		deadHandlers: make(map[string]DeadLetterHandler),
		stopCh:       make(chan struct{}),
	}
}

// RegisterHandler 注册消息处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// RegisterDeadLetterHandler 注册死信回调
func (c *Consumer) RegisterDeadLetterHandler(msgType string, handler DeadLetterHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadHandlers[msgType] = handler
}

// EnsureGroup 确保消费者组存在
func EnsureGroup(ctx context.Context, client *redis.Client, stream Stream, group ConsumerGroup) error {
	err := client.XGroupCreateMkStream(ctx, string(stream), string(group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Run 消费直到 ctx 结束或 Stop
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s already running", c.cfg.ConsumerName)
	}
	c.running = true
	c.mu.Unlock()

	if err := EnsureGroup(ctx, c.client, c.cfg.Stream, c.cfg.Group); err != nil {
		return err
	}

	logger.Info(ctx, "consumer started",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.ConsumerName,
	)

	var lastReclaim time.Time
	for !c.stopped(ctx) {
		reclaim := time.Since(lastReclaim) >= c.cfg.ClaimInterval
		c.drainPending(ctx, reclaim)
		if reclaim {
			lastReclaim = time.Now()
		}
		c.readNew(ctx)
	}

	logger.Info(ctx, "consumer stopped", "consumer", c.cfg.ConsumerName)
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) readNew(ctx context.Context) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{string(c.cfg.Stream), ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		logger.Error(ctx, "failed to read from stream", err, "stream", c.cfg.Stream)
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	for _, s := range streams {
		for _, xmsg := range s.Messages {
			c.dispatch(ctx, xmsg)
		}
	}
}

// drainPending 认领到期的 pending 消息
// reclaim 为 true 时同时接管其他消费者空闲超过 ReclaimIdle 的消息
func (c *Consumer) drainPending(ctx context.Context, reclaim bool) {
	args := &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  "-",
		End:    "+",
		Count:  20,
	}
	if !reclaim {
		args.Consumer = c.cfg.ConsumerName
	}
	pending, err := c.client.XPendingExt(ctx, args).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Error(ctx, "failed to query pending messages", err, "stream", c.cfg.Stream)
		}
		return
	}

	for _, p := range pending {
		minIdle, due := c.dueAfter(p)
		if !due {
			continue
		}
		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.cfg.Stream),
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.Error(ctx, "failed to claim pending message", err, "message_id", p.ID)
			continue
		}
		for _, xmsg := range claimed {
			if int(p.RetryCount) >= c.cfg.RetryLimit {
				c.deadLetter(ctx, xmsg, fmt.Errorf("delivered %d times", p.RetryCount))
				continue
			}
			c.dispatch(ctx, xmsg)
		}
	}
}

// dueAfter 返回认领所需的最小空闲时间以及当前是否到期
func (c *Consumer) dueAfter(p redis.XPendingExt) (time.Duration, bool) {
	if p.Consumer != c.cfg.ConsumerName {
		return c.cfg.ReclaimIdle, p.Idle >= c.cfg.ReclaimIdle
	}
	if int(p.RetryCount) >= c.cfg.RetryLimit {
		return 0, true
	}
	wait := c.cfg.Backoff.CalculateBackoff(int(p.RetryCount))
	return wait, p.Idle >= wait
}

func decode(xmsg redis.XMessage) (*Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, errors.New("missing data field")
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// withMessageContext 把消息携带的会话与请求标识注入日志上下文
func withMessageContext(ctx context.Context, msg *Message) context.Context {
	ctx = logger.WithSession(ctx, msg.SessionID, msg.UserID)
	if reqID := msg.GetMetadata("request_id"); reqID != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, reqID)
	}
	if traceID := msg.GetMetadata("trace_id"); traceID != "" {
		ctx = logger.WithContext(ctx, logger.TraceIDKey, traceID)
	}
	return ctx
}

func (c *Consumer) dispatch(ctx context.Context, xmsg redis.XMessage) {
	ctx, span := msgTracer.Start(ctx, "consumer.dispatch",
		trace.WithAttributes(
			attribute.String("stream", string(c.cfg.Stream)),
			attribute.String("stream.message_id", xmsg.ID),
		))
	defer span.End()

	msg, err := decode(xmsg)
	if err != nil {
		// 无法解析的消息重投也不会成功，直接确认
		logger.Error(ctx, "dropping undecodable message", err, "message_id", xmsg.ID)
		c.ack(ctx, xmsg.ID)
		return
	}
	ctx = withMessageContext(ctx, msg)
	span.SetAttributes(
		attribute.String("message.type", msg.Type),
		attribute.String("session_id", msg.SessionID),
	)

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "no handler for message type", "type", msg.Type)
		c.ack(ctx, xmsg.ID)
		return
	}

	err = handler(ctx, msg)
	switch {
	case err == nil:
		c.record("success")
		c.ack(ctx, xmsg.ID)
	case errors.Is(err, ErrRetryLater):
		c.record("retry")
		logger.Debug(ctx, "message left pending", "message_id", xmsg.ID)
	default:
		span.RecordError(err)
		c.record("failed")
		logger.Error(ctx, "handler failed, message left pending", err, "message_id", xmsg.ID)
	}
}

func (c *Consumer) record(outcome string) {
	metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), outcome).Inc()
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.cfg.Stream), string(c.cfg.Group), id).Err(); err != nil {
		logger.Error(ctx, "failed to ack message", err, "message_id", id)
	}
}

// deadLetter 执行死信回调，写入死信流后确认原消息
func (c *Consumer) deadLetter(ctx context.Context, xmsg redis.XMessage, reason error) {
	if msg, err := decode(xmsg); err == nil {
		c.mu.RLock()
		handler := c.deadHandlers[msg.Type]
		c.mu.RUnlock()
		if handler != nil {
			if err := handler(withMessageContext(ctx, msg), msg, reason); err != nil {
				logger.Error(ctx, "dead letter handler failed, message left pending", err, "message_id", xmsg.ID)
				return
			}
		}
	}

	entry := map[string]any{
		"original_stream": string(c.cfg.Stream),
		"message_id":      xmsg.ID,
		"data":            xmsg.Values["data"],
		"error":           reason.Error(),
		"failed_at":       time.Now().Unix(),
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream.DLQStream(),
		Values: entry,
	}).Err(); err != nil {
		// 死信写入失败时保留 pending，下一轮再试
		logger.Error(ctx, "failed to write DLQ entry", err, "message_id", xmsg.ID)
		return
	}
	logger.Warn(ctx, "message moved to DLQ", "message_id", xmsg.ID, "reason", reason.Error())
	c.record("dlq")
	c.ack(ctx, xmsg.ID)
}

// MonitorDLQ 死信流长度超过阈值时告警
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	dlq := c.cfg.Stream.DLQStream()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
		}
		n, err := c.client.XLen(ctx, dlq).Result()
		if err != nil {
			continue
		}
		if n > alertThreshold {
			logger.Warn(ctx, "DLQ above alert threshold", "stream", dlq, "count", n, "threshold", alertThreshold)
		}
	}
}
