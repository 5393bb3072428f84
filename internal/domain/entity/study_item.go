// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// StudyItemKind 学习条目类型
type StudyItemKind string

const (
	StudyItemFlashcard StudyItemKind = "flashcard"
	StudyItemQuiz      StudyItemKind = "quiz"
)

// StudyItem 生成结果（闪卡或测验题）
type StudyItem struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string         `json:"session_id" gorm:"type:varchar(64);index;not null"`
	Kind      StudyItemKind  `json:"kind" gorm:"type:varchar(16);not null"`
	Question  string         `json:"question" gorm:"type:text;not null"`
	Answer    string         `json:"answer" gorm:"type:text;not null"`
	Options   pq.StringArray `json:"options,omitempty" gorm:"type:text[]"`
	Position  int            `json:"position" gorm:"not null;default:0"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (StudyItem) TableName() string {
	return "study_items"
}
