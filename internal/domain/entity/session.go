// Package entity 定义领域实体
package entity

import (
	"time"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusRetrying   SessionStatus = "retrying"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusError      SessionStatus = "error"
)

// TerminalStatuses 终态集合，进入后不再变更
var TerminalStatuses = []SessionStatus{
	SessionStatusCompleted,
	SessionStatusFailed,
	SessionStatusError,
}

// IsTerminal 是否为终态
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusError:
		return true
	}
	return false
}

// CanTransition 检查状态迁移是否合法
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case SessionStatusPending:
		// 入队失败直接置为 error
		return to == SessionStatusProcessing || to == SessionStatusError
	case SessionStatusProcessing:
		return to == SessionStatusRetrying || to.IsTerminal()
	case SessionStatusRetrying:
		return to == SessionStatusProcessing || to == SessionStatusFailed || to == SessionStatusError
	}
	return false
}

// Session 上传会话
type Session struct {
	ID           string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	UserID       string         `json:"user_id,omitempty" gorm:"type:varchar(64);index"`
	Status       SessionStatus  `json:"status" gorm:"type:varchar(16);index;not null;default:pending"`
	Attempts     int            `json:"attempts" gorm:"not null;default:0"`
	ErrorKind    string         `json:"error_kind,omitempty" gorm:"type:varchar(64)"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt    *time.Time     `json:"started_at,omitempty" gorm:"index"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Files        []*SessionFile `json:"files,omitempty" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// TableName 表名
func (Session) TableName() string {
	return "study_sessions"
}

// NewSession 创建待处理会话
func NewSession(id, userID string, files []*SessionFile) *Session {
	for i, f := range files {
		f.SessionID = id
		f.Position = i
	}
	return &Session{
		ID:     id,
		UserID: userID,
		Status: SessionStatusPending,
		Files:  files,
	}
}

// IsTerminal 是否已结束
func (s *Session) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Duration 处理耗时
func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt)
}

// SessionFile 会话上传文件
type SessionFile struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID   string    `json:"session_id" gorm:"type:varchar(64);index;not null"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	ContentType string    `json:"content_type" gorm:"type:varchar(128)"`
	Size        int64     `json:"size" gorm:"not null;default:0"`
	Position    int       `json:"position" gorm:"not null;default:0"`
	Content     []byte    `json:"content,omitempty" gorm:"type:bytea"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (SessionFile) TableName() string {
	return "study_session_files"
}
