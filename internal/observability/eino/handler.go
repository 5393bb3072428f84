package eino

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/internal/domain/service"
	"study-forge-api/pkg/logger"
)

// startTimeKey 调用开始时间，OnEnd/OnError 时计算耗时
type startTimeKey struct{}

// newChatModelCallbackHandler ChatModel 回调
// 调用次数与耗时指标由提供商适配器上报，这里只补充日志和 span 事件
func newChatModelCallbackHandler() *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

			messages := 0
			if input != nil {
				messages = len(input.Messages)
			}
			trace.SpanFromContext(ctx).AddEvent("eino.chat_model.start", trace.WithAttributes(
				attribute.String("eino.workflow", service.WorkflowFromContext(ctx)),
				attribute.String("eino.component", runName(info)),
				attribute.String("llm.model", modelNameFromInput(input)),
				attribute.Int("llm.message_count", messages),
			))
			logger.Debug(ctx, "chat model call started",
				"workflow", service.WorkflowFromContext(ctx),
				"component", runName(info),
				"model", modelNameFromInput(input),
				"messages", messages,
			)
			return ctx
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			kv := []any{
				"workflow", service.WorkflowFromContext(ctx),
				"component", runName(info),
				"model", modelNameFromOutput(output),
				"duration_ms", elapsed(ctx).Milliseconds(),
			}
			if output != nil && output.TokenUsage != nil {
				kv = append(kv,
					"prompt_tokens", output.TokenUsage.PromptTokens,
					"completion_tokens", output.TokenUsage.CompletionTokens,
				)
				trace.SpanFromContext(ctx).AddEvent("eino.chat_model.end", trace.WithAttributes(
					attribute.Int("llm.prompt_tokens", output.TokenUsage.PromptTokens),
					attribute.Int("llm.completion_tokens", output.TokenUsage.CompletionTokens),
				))
			}
			logger.Debug(ctx, "chat model call finished", kv...)
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logger.Warn(ctx, "chat model call failed",
				"workflow", service.WorkflowFromContext(ctx),
				"component", runName(info),
				"duration_ms", elapsed(ctx).Milliseconds(),
				"error", err,
			)
			return ctx
		},
	}
}

func elapsed(ctx context.Context) time.Duration {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start)
}

func runName(info *einocb.RunInfo) string {
	if info == nil {
		return ""
	}
	if info.Name != "" {
		return info.Name
	}
	return info.Type
}

func modelNameFromInput(in *model.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *model.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
