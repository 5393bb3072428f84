package messaging

import (
	"time"

	"study-forge-api/internal/domain/entity"
)

// MessageTypeSessionProcess 会话处理任务
const MessageTypeSessionProcess = "session_process"

// SessionTaskMessage 会话处理任务载荷
// Files 为空时 worker 从数据库或暂存输入恢复
type SessionTaskMessage struct {
	SessionID   string             `json:"session_id"`
	UserID      string             `json:"user_id,omitempty"`
	Files       []entity.InputFile `json:"files,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
}
