package llm

import (
	"context"
	"fmt"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
)

// Registry 按模型 ID 路由到提供商
type Registry struct {
	byModel  map[string]service.Provider
	fallback service.Provider
	closers  []func() error
}

// NewRegistry 根据配置创建路由表
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	r := &Registry{byModel: make(map[string]service.Provider)}

	for name, pc := range cfg.Providers {
		var p service.Provider
		switch pc.Type {
		case "", "openai":
			p = NewOpenAIProvider(name, pc)
		case "gemini":
			gp := NewGeminiProvider(name, pc)
			r.closers = append(r.closers, gp.Close)
			p = gp
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", name, pc.Type)
		}

		for _, m := range pc.Models {
			if existing, ok := r.byModel[m]; ok {
				return nil, fmt.Errorf("model %s served by both %s and %s", m, existing.Name(), name)
			}
			r.byModel[m] = p
		}
		if name == cfg.DefaultProvider {
			r.fallback = p
		}
	}
	return r, nil
}

// Register 注册模型到提供商
func (r *Registry) Register(modelName string, p service.Provider) {
	r.byModel[modelName] = p
}

// Resolve 查找模型对应的提供商，未登记的模型交给默认提供商
func (r *Registry) Resolve(modelName string) (service.Provider, error) {
	if p, ok := r.byModel[modelName]; ok {
		return p, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no provider configured for model %s", modelName)
}

// Close 关闭持有连接的提供商
func (r *Registry) Close(_ context.Context) error {
	var firstErr error
	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
