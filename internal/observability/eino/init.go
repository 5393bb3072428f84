// Package eino 为 OpenAI 兼容提供商的生成调用挂接 Eino 回调
//
// llm.OpenAIProvider 每次调用前通过 callbacks.InitCallbacks 标记运行信息，
// 这里注册的全局处理器据此输出带会话标识的调用日志与 span 事件。
// Gemini 提供商不经过 Eino，调用指标由网关统一记录。
package eino

import (
	"sync"
	"sync/atomic"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
)

var (
	registerOnce sync.Once
	registered   atomic.Bool
)

// ProviderHandler 只处理 ChatModel 组件的回调
func ProviderHandler() einocallbacks.Handler {
	return cbtemplate.NewHandlerHelper().
		ChatModel(newChatModelCallbackHandler()).
		Handler()
}

// Init 在 job-worker 启动时注册一次，返回本次调用是否完成注册
func Init() bool {
	first := false
	registerOnce.Do(func() {
		einocallbacks.AppendGlobalHandlers(ProviderHandler())
		registered.Store(true)
		first = true
	})
	return first
}

// Registered 处理器是否已注册
func Registered() bool {
	return registered.Load()
}
