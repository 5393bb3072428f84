package dto

import (
	"time"

	"study-forge-api/internal/domain/entity"
)

// ErrorRecordResponse 会话错误记录
type ErrorRecordResponse struct {
	SessionID   string         `json:"session_id"`
	Kind        string         `json:"kind"`
	Message     string         `json:"message"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// NewErrorRecordResponse 转换错误记录
func NewErrorRecordResponse(sessionID string, rec *entity.ErrorRecord) *ErrorRecordResponse {
	return &ErrorRecordResponse{
		SessionID:   sessionID,
		Kind:        rec.Kind,
		Message:     rec.Message,
		Diagnostics: rec.Diagnostics,
		OccurredAt:  rec.OccurredAt,
	}
}

// StudyItemResponse 学习条目
type StudyItemResponse struct {
	Kind     string   `json:"kind"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Options  []string `json:"options,omitempty"`
}

// StudySetResponse 会话结果
type StudySetResponse struct {
	SessionID  string               `json:"session_id"`
	Flashcards []*StudyItemResponse `json:"flashcards"`
	Quiz       []*StudyItemResponse `json:"quiz"`
}

// NewStudySetResponse 按类型分组学习条目
func NewStudySetResponse(sessionID string, items []*entity.StudyItem) *StudySetResponse {
	resp := &StudySetResponse{
		SessionID:  sessionID,
		Flashcards: []*StudyItemResponse{},
		Quiz:       []*StudyItemResponse{},
	}
	for _, it := range items {
		item := &StudyItemResponse{
			Kind:     string(it.Kind),
			Question: it.Question,
			Answer:   it.Answer,
			Options:  []string(it.Options),
		}
		if it.Kind == entity.StudyItemQuiz {
			resp.Quiz = append(resp.Quiz, item)
		} else {
			resp.Flashcards = append(resp.Flashcards, item)
		}
	}
	return resp
}

// CacheClearResponse 缓存清理结果
type CacheClearResponse struct {
	Pattern string `json:"pattern"`
	Deleted int    `json:"deleted"`
}

// CreditGrantRequest 额度发放请求
type CreditGrantRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason"`
}

// CreditBalanceResponse 额度余额
type CreditBalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}
