// Package llm 提供生成服务适配器
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
	"study-forge-api/pkg/metrics"
)

var tracer = otel.Tracer("llm")

const jsonInstruction = "Respond with a single valid JSON document and nothing else."

// OpenAIProvider OpenAI 兼容接口适配器，基于 Eino ChatModel
type OpenAIProvider struct {
	name   string
	config config.ProviderConfig

	mu     sync.Mutex
	client model.BaseChatModel
}

// NewOpenAIProvider 创建 OpenAI 兼容适配器，客户端在首次调用时创建
func NewOpenAIProvider(name string, cfg config.ProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{name: name, config: cfg}
}

// Name 提供商名称
func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) chatModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	// 模型名在每次调用时通过 option 覆盖
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  p.config.APIKey,
		BaseURL: p.config.BaseURL,
		Model:   modelName,
		Timeout: p.config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", p.name, err)
	}
	p.client = cm
	return cm, nil
}

// RawComplete 单次调用，不做重试
func (p *OpenAIProvider) RawComplete(ctx context.Context, modelName string, messages []service.ChatMessage, params service.GenerationParams) service.Outcome {
	ctx, span := tracer.Start(ctx, "llm.openai.Generate",
		trace.WithAttributes(
			attribute.String("llm.provider", p.name),
			attribute.String("llm.model", modelName),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	cm, err := p.chatModel(ctx, modelName)
	if err != nil {
		span.RecordError(err)
		return service.Fatal(err)
	}

	// 直接调用组件时需要手动挂载全局 callbacks
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      p.name,
		Type:      "OpenAI",
		Component: components.ComponentOfChatModel,
	})

	start := time.Now()
	msg, err := cm.Generate(ctx, toSchemaMessages(messages, params), generateOptions(modelName, params)...)
	metrics.LLMCallDuration.WithLabelValues(p.name, modelName).Observe(time.Since(start).Seconds())

	var outcome service.Outcome
	switch {
	case err != nil:
		outcome = Classify(err)
	case msg == nil:
		outcome = service.Retryable(errors.New("empty response from provider"))
	default:
		completion := &service.RawCompletion{
			Text:     msg.Content,
			Model:    modelName,
			Provider: p.name,
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			completion.Usage = service.TokenUsage{
				InputTokens:  msg.ResponseMeta.Usage.PromptTokens,
				OutputTokens: msg.ResponseMeta.Usage.CompletionTokens,
			}
		}
		outcome = service.OK(completion)
	}

	metrics.LLMCallTotal.WithLabelValues(p.name, modelName, outcome.Kind.String()).Inc()
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Kind.String())
	} else {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", outcome.Completion.Usage.InputTokens),
			attribute.Int("llm.output_tokens", outcome.Completion.Usage.OutputTokens),
		)
	}
	return outcome
}

func toSchemaMessages(messages []service.ChatMessage, params service.GenerationParams) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if params.ResponseFormat == "json" {
		out = append(out, schema.SystemMessage(jsonInstruction))
	}
	for _, m := range messages {
		switch m.Role {
		case service.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case service.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func generateOptions(modelName string, params service.GenerationParams) []model.Option {
	opts := []model.Option{model.WithModel(modelName)}
	if params.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*params.Temperature)))
	}
	if params.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*params.TopP)))
	}
	if params.MaxOutputTokens > 0 {
		opts = append(opts, model.WithMaxTokens(params.MaxOutputTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, model.WithStop(params.Stop))
	}
	return opts
}
