package service

import "context"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 影响输出的生成参数，全部参与缓存键计算
type GenerationParams struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	Stop            []string `json:"stop,omitempty"`
	// ResponseFormat 目前只识别 "json"
	ResponseFormat string `json:"response_format,omitempty"`
}

// TokenUsage token 用量
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// RawCompletion 提供商返回的原始结果
type RawCompletion struct {
	Text     string
	Usage    TokenUsage
	Model    string
	Provider string
}

// OutcomeKind 单次调用结果分类
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome 单次调用结果，由重试循环消费
type Outcome struct {
	Kind       OutcomeKind
	Completion *RawCompletion
	Err        error
}

// OK 成功结果
func OK(c *RawCompletion) Outcome {
	return Outcome{Kind: OutcomeOK, Completion: c}
}

// Retryable 可重试失败
func Retryable(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err}
}

// Fatal 不可重试失败
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Provider 生成服务适配器
// 实现需自行把底层错误归类为 Retryable 或 Fatal
type Provider interface {
	Name() string
	RawComplete(ctx context.Context, model string, messages []ChatMessage, params GenerationParams) Outcome
}
