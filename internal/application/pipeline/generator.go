package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"study-forge-api/internal/application/gateway"
	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/service"
	"study-forge-api/internal/workflow/prompt"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
)

// Completer 生成调用入口
type Completer interface {
	Complete(ctx context.Context, req gateway.CompletionRequest) (*gateway.Completion, error)
	Evict(ctx context.Context, req gateway.CompletionRequest) error
}

// Chunk 待生成的文本片段
type Chunk struct {
	Index int
	Total int
	Text  string
}

// StudyGenerator 由文本片段生成闪卡与测验题
type StudyGenerator struct {
	completer Completer
	prompts   *prompt.Registry
	cfg       config.PipelineConfig
}

// NewStudyGenerator 创建生成器
func NewStudyGenerator(completer Completer, prompts *prompt.Registry, cfg config.PipelineConfig) *StudyGenerator {
	return &StudyGenerator{completer: completer, prompts: prompts, cfg: cfg}
}

type studySet struct {
	Flashcards []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"flashcards"`
	Quiz []struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Answer   string   `json:"answer"`
	} `json:"quiz"`
}

// Generate 对单个片段调用生成服务并解析结果
// 无法解析的响应会从缓存中移除，并以暂时性错误返回以便重试
func (g *StudyGenerator) Generate(ctx context.Context, userID, sessionID string, chunk Chunk) ([]*entity.StudyItem, error) {
	messages, err := g.prompts.Render(ctx, prompt.PromptStudySetV1, map[string]any{
		"part":       chunk.Index + 1,
		"parts":      chunk.Total,
		"material":   chunk.Text,
		"flashcards": g.cfg.FlashcardsPer,
		"quiz":       g.cfg.QuizPer,
	})
	if err != nil {
		return nil, err
	}

	temperature := g.cfg.Temperature
	req := gateway.CompletionRequest{
		Model:    g.cfg.Model,
		Messages: messages,
		Params: service.GenerationParams{
			Temperature:     &temperature,
			MaxOutputTokens: g.cfg.MaxOutputTokens,
			ResponseFormat:  "json",
		},
		UserID:    userID,
		SessionID: sessionID,
	}

	completion, err := g.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	items, err := parseStudySet(completion.Text)
	if err != nil {
		if evictErr := g.completer.Evict(ctx, req); evictErr != nil {
			logger.Warn(ctx, "failed to evict unparseable response", "error", evictErr.Error())
		}
		logger.Warn(ctx, "unparseable generation response",
			"chunk", chunk.Index,
			"cached", completion.Cached,
			"error", err.Error(),
		)
		return nil, apperrors.ExternalTransient(fmt.Errorf("chunk %d: %w", chunk.Index, err))
	}
	return items, nil
}

func parseStudySet(text string) ([]*entity.StudyItem, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, errors.New("empty response")
	}

	var set studySet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("decode study set: %w", err)
	}

	items := make([]*entity.StudyItem, 0, len(set.Flashcards)+len(set.Quiz))
	for _, fc := range set.Flashcards {
		q, a := strings.TrimSpace(fc.Question), strings.TrimSpace(fc.Answer)
		if q == "" || a == "" {
			continue
		}
		items = append(items, &entity.StudyItem{Kind: entity.StudyItemFlashcard, Question: q, Answer: a})
	}
	for _, qz := range set.Quiz {
		q, a := strings.TrimSpace(qz.Question), strings.TrimSpace(qz.Answer)
		if q == "" || a == "" || len(qz.Options) < 2 || !containsOption(qz.Options, a) {
			continue
		}
		items = append(items, &entity.StudyItem{Kind: entity.StudyItemQuiz, Question: q, Answer: a, Options: qz.Options})
	}
	if len(items) == 0 {
		return nil, errors.New("response contained no usable items")
	}
	return items, nil
}

func containsOption(options []string, answer string) bool {
	for _, o := range options {
		if strings.TrimSpace(o) == answer {
			return true
		}
	}
	return false
}

// extractJSONObject 截取模型输出中的第一个 JSON 对象，容忍前后多余文本与代码块标记
func extractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
