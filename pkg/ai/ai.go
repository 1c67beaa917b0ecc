// Package ai generates narrative prose for report sections. Each provider
// implements Client; Chain tries providers in priority order so a report
// still gets its narrative when the primary model is down.
package ai

import (
	"context"

	"go.uber.org/zap"
)

// Prompt is one narrative-section request. Text carries the instructions
// and the data digest; System carries the house style guide.
type Prompt struct {
	Section     string
	System      string
	Text        string
	MaxTokens   int64
	Temperature float64
}

// Usage tracks token consumption for one generation.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Result is the generated section text with provenance.
type Result struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage
}

// Client defines a single narrative-model provider.
type Client interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (*Result, error)
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"gemini-2.5-flash":           {0.30, 2.50},
	"gemini-2.5-pro":             {1.25, 10.00},
}

// EstimateCost computes an estimated cost in USD from a Usage and model ID.
// Returns 0 for unknown models.
func (u Usage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	inCost := (float64(u.InputTokens) / 1e6) * pricing[0]
	outCost := (float64(u.OutputTokens) / 1e6) * pricing[1]
	return inCost + outCost
}

// Log records token usage and estimated cost with structured zap fields.
func (u Usage) Log(provider, model, section string) {
	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("section", section),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
