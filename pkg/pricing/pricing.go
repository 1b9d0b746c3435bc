// Package pricing maps model token usage to cost in integer cents.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultModel is the model whose rate applies to unrecognised models.
const DefaultModel = "gpt-4o-mini"

// FreeModel is the zero-cost model used by degraded answers.
const FreeModel = "degraded-free"

// Rate holds USD per million tokens for a model.
type Rate struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

func rate(in, out string) Rate {
	return Rate{
		InputPerMTok:  decimal.RequireFromString(in),
		OutputPerMTok: decimal.RequireFromString(out),
	}
}

var modelRates = map[string]Rate{
	"gpt-4o-mini":       rate("0.15", "0.60"),
	"gpt-4o":            rate("2.50", "10.00"),
	"gpt-4.1-mini":      rate("0.40", "1.60"),
	"gpt-4.1":           rate("2.00", "8.00"),
	"gpt-4-turbo":       rate("10.00", "30.00"),
	"gpt-3.5-turbo":     rate("0.50", "1.50"),
	"claude-haiku-4-5":  rate("1.00", "5.00"),
	"claude-sonnet-4-5": rate("3.00", "15.00"),
	"claude-opus-4-1":   rate("15.00", "75.00"),
	FreeModel:           rate("0", "0"),
}

var (
	million = decimal.NewFromInt(1_000_000)
	hundred = decimal.NewFromInt(100)
)

// Lookup returns the rate for model: exact match first, then the longest
// known prefix (dated snapshots such as gpt-4o-2024-11-20), then DefaultModel.
func Lookup(model string) (Rate, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if r, ok := modelRates[m]; ok {
		return r, true
	}
	best := ""
	for name := range modelRates {
		if strings.HasPrefix(m, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return modelRates[best], true
	}
	return modelRates[DefaultModel], false
}

// Known reports whether model resolves to a rate other than the fallback.
func Known(model string) bool {
	_, ok := Lookup(model)
	return ok
}

// CostUSD returns the exact cost in dollars.
func CostUSD(model string, inputTokens, outputTokens int64) decimal.Decimal {
	r, _ := Lookup(model)
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	in := decimal.NewFromInt(inputTokens).Mul(r.InputPerMTok)
	out := decimal.NewFromInt(outputTokens).Mul(r.OutputPerMTok)
	return in.Add(out).Div(million)
}

// CostCents returns the cost rounded half away from zero to the nearest cent.
func CostCents(model string, inputTokens, outputTokens int64) int64 {
	return CostUSD(model, inputTokens, outputTokens).Mul(hundred).Round(0).IntPart()
}
