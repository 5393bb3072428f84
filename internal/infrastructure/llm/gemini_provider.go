package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
	"study-forge-api/pkg/metrics"
)

// GeminiProvider Gemini 适配器
type GeminiProvider struct {
	name   string
	config config.ProviderConfig

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider 创建 Gemini 适配器，客户端在首次调用时创建
func NewGeminiProvider(name string, cfg config.ProviderConfig) *GeminiProvider {
	return &GeminiProvider{name: name, config: cfg}
}

// Name 提供商名称
func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(p.config.APIKey)}
	if p.config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(p.config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client for %s: %w", p.name, err)
	}
	p.client = client
	return client, nil
}

// Close 关闭底层客户端
func (p *GeminiProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// RawComplete 单次调用，不做重试
func (p *GeminiProvider) RawComplete(ctx context.Context, modelName string, messages []service.ChatMessage, params service.GenerationParams) service.Outcome {
	ctx, span := tracer.Start(ctx, "llm.gemini.Generate",
		trace.WithAttributes(
			attribute.String("llm.provider", p.name),
			attribute.String("llm.model", modelName),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	client, err := p.genaiClient(ctx)
	if err != nil {
		span.RecordError(err)
		return service.Fatal(err)
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	gm := client.GenerativeModel(modelName)
	applyParams(gm, params)

	history, last := splitConversation(gm, messages)
	if last == "" {
		return service.Fatal(errors.New("conversation has no user message"))
	}
	cs := gm.StartChat()
	cs.History = history

	start := time.Now()
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	metrics.LLMCallDuration.WithLabelValues(p.name, modelName).Observe(time.Since(start).Seconds())

	var outcome service.Outcome
	var blocked *genai.BlockedError
	switch {
	case errors.As(err, &blocked):
		outcome = service.Fatal(err)
	case err != nil:
		outcome = Classify(err)
	default:
		outcome = p.completion(resp, modelName)
	}

	metrics.LLMCallTotal.WithLabelValues(p.name, modelName, outcome.Kind.String()).Inc()
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Kind.String())
	}
	return outcome
}

func (p *GeminiProvider) completion(resp *genai.GenerateContentResponse, modelName string) service.Outcome {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return service.Retryable(errors.New("empty response from provider"))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	completion := &service.RawCompletion{
		Text:     sb.String(),
		Model:    modelName,
		Provider: p.name,
	}
	if resp.UsageMetadata != nil {
		completion.Usage = service.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return service.OK(completion)
}

func applyParams(gm *genai.GenerativeModel, params service.GenerationParams) {
	if params.Temperature != nil {
		gm.SetTemperature(float32(*params.Temperature))
	}
	if params.TopP != nil {
		gm.SetTopP(float32(*params.TopP))
	}
	if params.MaxOutputTokens > 0 {
		gm.SetMaxOutputTokens(int32(params.MaxOutputTokens))
	}
	if len(params.Stop) > 0 {
		gm.StopSequences = params.Stop
	}
	if params.ResponseFormat == "json" {
		gm.ResponseMIMEType = "application/json"
	}
}

// splitConversation 系统消息并入 SystemInstruction，最后一条用户消息单独发送
func splitConversation(gm *genai.GenerativeModel, messages []service.ChatMessage) ([]*genai.Content, string) {
	var system []genai.Part
	var turns []service.ChatMessage
	for _, m := range messages {
		if m.Role == service.RoleSystem {
			system = append(system, genai.Text(m.Content))
			continue
		}
		turns = append(turns, m)
	}
	if len(system) > 0 {
		gm.SystemInstruction = &genai.Content{Parts: system}
	}

	if len(turns) == 0 || turns[len(turns)-1].Role == service.RoleAssistant {
		return nil, ""
	}
	last := turns[len(turns)-1].Content

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == service.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, last
}
