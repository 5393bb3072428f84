// Package messaging 提供基于 Redis Streams 的任务队列
package messaging

import (
	"encoding/json"
	"time"
)

// Stream 流名称
type Stream string

// StreamSessionProcess 会话处理任务流
const StreamSessionProcess Stream = "stream:session:process"

// DLQStream 对应的死信流
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组名称
type ConsumerGroup string

// ConsumerGroupPipeline 流水线 worker 消费者组
const ConsumerGroupPipeline ConsumerGroup = "cg-pipeline-worker"

// Message 流中传输的消息信封，载荷按 Type 解析
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 封装载荷
func NewMessage(id, msgType, userID, sessionID string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		UserID:    userID,
		SessionID: sessionID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SetMetadata 附加追踪信息
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string, 2)
	}
	m.Metadata[key] = value
}

// GetMetadata 读取附加信息，不存在时返回空串
func (m *Message) GetMetadata(key string) string {
	return m.Metadata[key]
}

// UnmarshalPayload 解析载荷
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
