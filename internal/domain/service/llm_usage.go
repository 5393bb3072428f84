package service

import "context"

// UsageInput 表示一次生成调用的可计费与可观测数据。
// 说明：该结构位于 domain/service，作为跨层的稳定契约（port），避免基础设施层依赖应用层实现。
type UsageInput struct {
	UserID    string
	SessionID string

	Workflow string
	Provider string
	Model    string

	InputTokens  int
	OutputTokens int
	Cost         int64
	Cached       bool
	DurationMs   int
}

// UsageRecorder 负责写入使用记录。
// 约定：该接口的实现应尽量“best-effort”，不应阻塞主业务流程。
type UsageRecorder interface {
	Record(ctx context.Context, in UsageInput) error
}
