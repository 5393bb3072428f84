package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"study-forge-api/internal/domain/service"
	"study-forge-api/internal/infrastructure/persistence/redis"
)

// cacheKeyPayload 参与缓存键计算的字段，字段顺序固定
// 请求 ID、用户、会话与时间戳不参与计算
type cacheKeyPayload struct {
	Model           string                `json:"model"`
	Messages        []service.ChatMessage `json:"messages"`
	Temperature     *float64              `json:"temperature"`
	MaxOutputTokens int                   `json:"max_output_tokens"`
	TopP            *float64              `json:"top_p"`
	Stop            []string              `json:"stop"`
	ResponseFormat  string                `json:"response_format"`
}

// CacheKey 计算请求的缓存键：llmcache:{sha256(canonical json)}
func CacheKey(model string, messages []service.ChatMessage, params service.GenerationParams) string {
	payload := cacheKeyPayload{
		Model:           model,
		Messages:        messages,
		Temperature:     params.Temperature,
		MaxOutputTokens: params.MaxOutputTokens,
		TopP:            params.TopP,
		Stop:            params.Stop,
		ResponseFormat:  params.ResponseFormat,
	}
	// nil 与空切片视为相同
	if len(payload.Messages) == 0 {
		payload.Messages = []service.ChatMessage{}
	}
	if len(payload.Stop) == 0 {
		payload.Stop = nil
	}

	// 字段均为可序列化类型，不会失败
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return redis.CacheKeyPrefix + hex.EncodeToString(sum[:])
}
