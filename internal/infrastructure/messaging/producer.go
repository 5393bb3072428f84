package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/tracer"
)

const defaultMaxLen = 100000

var msgTracer = otel.Tracer("messaging")

// Producer 向流追加消息，流长度近似裁剪到 maxLen
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建生产者，maxLen <= 0 时使用默认上限
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{client: client, maxLen: maxLen}
}

// Publish 追加消息，返回流内 ID
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := msgTracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.type", msg.Type),
			attribute.String("session_id", msg.SessionID),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	span.SetAttributes(attribute.String("stream.message_id", id))
	return id, nil
}

// PublishSessionTask 投递会话处理任务，带上请求与追踪标识
func (p *Producer) PublishSessionTask(ctx context.Context, task *SessionTaskMessage) (string, error) {
	msg, err := NewMessage(task.SessionID, MessageTypeSessionProcess, task.UserID, task.SessionID, task)
	if err != nil {
		return "", err
	}
	if reqID, _ := ctx.Value(logger.RequestIDKey).(string); reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	if traceID := tracer.TraceID(ctx); traceID != "" {
		msg.SetMetadata("trace_id", traceID)
	}
	return p.Publish(ctx, StreamSessionProcess, msg)
}
