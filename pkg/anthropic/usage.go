package anthropic

import "go.uber.org/zap"

// TokenUsage is the billed token breakdown of one or more model calls.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Add folds another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// modelRate is USD per million tokens. Cache writes bill at 1.25x the input
// rate, cache reads at a tenth of it.
type modelRate struct {
	Input  float64
	Output float64
}

const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.10
)

var modelRates = map[string]modelRate{
	"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
	"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
	"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
}

// EstimateCost prices the usage against the model's published rates.
// Unknown models cost zero.
func (u TokenUsage) EstimateCost(model string) float64 {
	rate, ok := modelRates[model]
	if !ok {
		return 0
	}
	perM := func(tokens int64, dollars float64) float64 {
		return float64(tokens) / 1e6 * dollars
	}
	return perM(u.InputTokens, rate.Input) +
		perM(u.OutputTokens, rate.Output) +
		perM(u.CacheCreationInputTokens, rate.Input*cacheWriteFactor) +
		perM(u.CacheReadInputTokens, rate.Input*cacheReadFactor)
}

// LogCost records the usage and its estimated price for one pipeline stage.
func (u TokenUsage) LogCost(model, stage string) {
	zap.L().Info("model spend",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
