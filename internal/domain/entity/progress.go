// Package entity 定义领域实体
package entity

import "time"

// processing 期间的处理步骤
const (
	StepLoading    = "loading"
	StepExtracting = "extracting"
	StepGenerating = "generating"
	StepPersisting = "persisting"
)

// ProgressRecord 会话进度（轮询读取）
// Stage 始终是会话状态之一，Step 只在 processing 时有值
type ProgressRecord struct {
	Stage     string    `json:"stage"`
	Step      string    `json:"step,omitempty"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorRecord 会话错误记录
type ErrorRecord struct {
	Kind        string         `json:"kind"`
	Message     string         `json:"message"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// InputFile 提交时暂存的原始文件
type InputFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}
