package anthropic

import "go.uber.org/zap"

// TokenUsage tracks token consumption for one API call.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Per-million-token prices in USD.
type pricing struct {
	input  float64
	output float64
}

var modelPricing = map[string]pricing{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
	"claude-opus-4-6":            {input: 15.00, output: 75.00},
}

// EstimateCost converts usage to an estimated USD cost. Cache writes bill at
// 1.25x the input rate and cache reads at 0.1x. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	cost := float64(u.InputTokens) / 1e6 * p.input
	cost += float64(u.OutputTokens) / 1e6 * p.output
	cost += float64(u.CacheCreationInputTokens) / 1e6 * p.input * 1.25
	cost += float64(u.CacheReadInputTokens) / 1e6 * p.input * 0.1
	return cost
}

// LogCost records token counts and the estimated cost for the named
// operation ("parse" or "suggest").
func (u TokenUsage) LogCost(model, operation string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("operation", operation),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
