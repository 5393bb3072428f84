// Package billing 提供额度计费与扣减
package billing

import (
	"math"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/service"
)

// 浮点误差容忍，避免 2.0000000001 被向上取整为 3
const costEpsilon = 1e-9

// Rate 每 1K token 的额度费率
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// RateTable 按模型 ID 查找费率，未配置的模型使用默认费率
type RateTable struct {
	rates    map[string]Rate
	fallback Rate
}

// NewRateTable 创建费率表
func NewRateTable(rates map[string]Rate, fallback Rate) *RateTable {
	cp := make(map[string]Rate, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &RateTable{rates: cp, fallback: fallback}
}

// RateTableFromConfig 从计费配置创建费率表
func RateTableFromConfig(cfg config.BillingConfig) *RateTable {
	rates := make(map[string]Rate, len(cfg.Rates))
	for _, r := range cfg.Rates {
		rates[r.Model] = Rate{InputPer1K: r.InputPer1K, OutputPer1K: r.OutputPer1K}
	}
	return NewRateTable(rates, Rate{
		InputPer1K:  cfg.DefaultRate.InputPer1K,
		OutputPer1K: cfg.DefaultRate.OutputPer1K,
	})
}

// RateFor 返回模型费率
func (t *RateTable) RateFor(model string) Rate {
	if r, ok := t.rates[model]; ok {
		return r
	}
	return t.fallback
}

// Cost 计算额度消耗，最少为 1
func (t *RateTable) Cost(model string, inputTokens, outputTokens int) int64 {
	r := t.RateFor(model)
	raw := float64(inputTokens)/1000*r.InputPer1K + float64(outputTokens)/1000*r.OutputPer1K
	cost := int64(math.Ceil(raw - costEpsilon))
	if cost < 1 {
		return 1
	}
	return cost
}

// EstimateInputTokens 粗略估算输入 token：约 4 字符 1 token，每条消息额外 4 token
func EstimateInputTokens(messages []service.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// EstimateOutputTokens 输出 token 估算，未指定上限时使用默认值
func EstimateOutputTokens(params service.GenerationParams, defaultTokens int) int {
	if params.MaxOutputTokens > 0 {
		return params.MaxOutputTokens
	}
	return defaultTokens
}
