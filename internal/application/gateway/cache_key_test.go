package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"study-forge-api/internal/domain/service"
)

func ptr(f float64) *float64 { return &f }

func TestCacheKeyDeterministic(t *testing.T) {
	msgs := []service.ChatMessage{
		{Role: service.RoleSystem, Content: "You write flashcards."},
		{Role: service.RoleUser, Content: "Cells divide by mitosis."},
	}
	params := service.GenerationParams{Temperature: ptr(0.3), MaxOutputTokens: 512, ResponseFormat: "json"}

	k1 := CacheKey("gpt-4o-mini", msgs, params)
	k2 := CacheKey("gpt-4o-mini", append([]service.ChatMessage(nil), msgs...), service.GenerationParams{
		Temperature: ptr(0.3), MaxOutputTokens: 512, ResponseFormat: "json", Stop: []string{},
	})

	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "llmcache:"))
	assert.Len(t, strings.TrimPrefix(k1, "llmcache:"), 64)
}

func TestCacheKeySensitiveToOutputAffectingFields(t *testing.T) {
	msgs := []service.ChatMessage{{Role: service.RoleUser, Content: "q"}}
	base := CacheKey("m", msgs, service.GenerationParams{})

	assert.NotEqual(t, base, CacheKey("m2", msgs, service.GenerationParams{}))
	assert.NotEqual(t, base, CacheKey("m", msgs, service.GenerationParams{Temperature: ptr(0)}))
	assert.NotEqual(t, base, CacheKey("m", msgs, service.GenerationParams{MaxOutputTokens: 1}))
	assert.NotEqual(t, base, CacheKey("m", msgs, service.GenerationParams{TopP: ptr(0.9)}))
	assert.NotEqual(t, base, CacheKey("m", msgs, service.GenerationParams{Stop: []string{"END"}}))
	assert.NotEqual(t, base, CacheKey("m", msgs, service.GenerationParams{ResponseFormat: "json"}))
	assert.NotEqual(t, base, CacheKey("m", []service.ChatMessage{{Role: service.RoleSystem, Content: "q"}}, service.GenerationParams{}))
}

func TestCacheKeyMessageOrderMatters(t *testing.T) {
	a := service.ChatMessage{Role: service.RoleUser, Content: "a"}
	b := service.ChatMessage{Role: service.RoleUser, Content: "b"}
	assert.NotEqual(t,
		CacheKey("m", []service.ChatMessage{a, b}, service.GenerationParams{}),
		CacheKey("m", []service.ChatMessage{b, a}, service.GenerationParams{}))
}
