// Package prompt 管理内置提示词模板
package prompt

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"study-forge-api/internal/domain/service"
)

//go:embed templates/*.txt
var templatesFS embed.FS

// PromptID 模板标识，对应 templates/<id>.system.txt 与 templates/<id>.user.txt
type PromptID string

// PromptStudySetV1 闪卡与测验题生成
const PromptStudySetV1 PromptID = "study_set_v1"

var known = map[PromptID]bool{
	PromptStudySetV1: true,
}

// Registry 按需加载并缓存 Eino ChatTemplate
type Registry struct {
	mu        sync.Mutex
	templates map[PromptID]einoprompt.ChatTemplate
}

// NewRegistry 创建模板注册表
func NewRegistry() *Registry {
	return &Registry{templates: make(map[PromptID]einoprompt.ChatTemplate)}
}

// ChatTemplate 返回模板，首次访问时从内嵌文件构建
func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl, ok := r.templates[id]; ok {
		return tpl, nil
	}
	if !known[id] {
		return nil, fmt.Errorf("unknown prompt id: %s", id)
	}

	system, err := load(id, "system")
	if err != nil {
		return nil, err
	}
	user, err := load(id, "user")
	if err != nil {
		return nil, err
	}
	tpl := einoprompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.templates[id] = tpl
	return tpl, nil
}

func load(id PromptID, part string) (string, error) {
	b, err := templatesFS.ReadFile(fmt.Sprintf("templates/%s.%s.txt", id, part))
	if err != nil {
		return "", fmt.Errorf("load prompt %s/%s: %w", id, part, err)
	}
	return strings.TrimSpace(string(b)), nil
}

var roles = map[schema.RoleType]string{
	schema.System:    service.RoleSystem,
	schema.User:      service.RoleUser,
	schema.Assistant: service.RoleAssistant,
}

// Render 用变量填充模板，转换为网关使用的消息格式
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) ([]service.ChatMessage, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", id, err)
	}

	out := make([]service.ChatMessage, len(msgs))
	for i, m := range msgs {
		role, ok := roles[m.Role]
		if !ok {
			role = service.RoleUser
		}
		out[i] = service.ChatMessage{Role: role, Content: m.Content}
	}
	return out, nil
}
