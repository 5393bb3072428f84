// Package entity 定义领域实体
package entity

import "time"

type UsageRecord struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID       string    `json:"user_id,omitempty" gorm:"type:varchar(64);index"`
	SessionID    string    `json:"session_id,omitempty" gorm:"type:varchar(64);index"`
	Workflow     string    `json:"workflow,omitempty" gorm:"type:varchar(64)"`
	Provider     string    `json:"provider" gorm:"type:varchar(32);not null"`
	Model        string    `json:"model" gorm:"type:varchar(64);not null"`
	InputTokens  int       `json:"input_tokens" gorm:"not null;default:0"`
	OutputTokens int       `json:"output_tokens" gorm:"not null;default:0"`
	Cost         int64     `json:"cost" gorm:"not null;default:0"`
	Cached       bool      `json:"cached" gorm:"not null;default:false"`
	DurationMs   int       `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
