package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
)

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry(config.LLMConfig{
		DefaultProvider: "openai",
		Providers: map[string]config.ProviderConfig{
			"openai": {Type: "openai", Models: []string{"gpt-4o-mini"}},
			"gemini": {Type: "gemini", Models: []string{"gemini-1.5-flash"}},
		},
	})
	require.NoError(t, err)

	p, err := r.Resolve("gemini-1.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	p, err = r.Resolve("some-unlisted-model")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestRegistryRejectsDuplicateModel(t *testing.T) {
	_, err := NewRegistry(config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"a": {Type: "openai", Models: []string{"m"}},
			"b": {Type: "gemini", Models: []string{"m"}},
		},
	})
	assert.Error(t, err)
}

func TestRegistryUnknownType(t *testing.T) {
	_, err := NewRegistry(config.LLMConfig{
		Providers: map[string]config.ProviderConfig{"x": {Type: "bedrock"}},
	})
	assert.Error(t, err)
}

func TestRegistryNoFallback(t *testing.T) {
	r, err := NewRegistry(config.LLMConfig{})
	require.NoError(t, err)
	_, err = r.Resolve("gpt-4o-mini")
	assert.Error(t, err)
}

func TestSplitConversation(t *testing.T) {
	gm := &genai.GenerativeModel{}
	history, last := splitConversation(gm, []service.ChatMessage{
		{Role: service.RoleSystem, Content: "be terse"},
		{Role: service.RoleUser, Content: "q1"},
		{Role: service.RoleAssistant, Content: "a1"},
		{Role: service.RoleUser, Content: "q2"},
	})

	assert.Equal(t, "q2", last)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	require.NotNil(t, gm.SystemInstruction)
	assert.Equal(t, genai.Text("be terse"), gm.SystemInstruction.Parts[0])
}

func TestSplitConversationRequiresTrailingUserTurn(t *testing.T) {
	_, last := splitConversation(&genai.GenerativeModel{}, []service.ChatMessage{
		{Role: service.RoleUser, Content: "q"},
		{Role: service.RoleAssistant, Content: "a"},
	})
	assert.Empty(t, last)
}

func TestToSchemaMessagesAddsJSONInstruction(t *testing.T) {
	msgs := toSchemaMessages([]service.ChatMessage{{Role: service.RoleUser, Content: "hi"}},
		service.GenerationParams{ResponseFormat: "json"})
	require.Len(t, msgs, 2)
	assert.Equal(t, jsonInstruction, msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
}
