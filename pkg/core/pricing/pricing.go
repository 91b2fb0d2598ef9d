// Package pricing implements the per-turn credit gate.
package pricing

import (
	"github.com/parley-ai/parley/pkg/core"
)

// Gate approves or denies a turn against a static price table.
// It is side-effect-free and is consulted exactly once per turn, before any
// resource is acquired.
type Gate struct {
	prices map[string]float64
}

// DefaultPrices is the built-in model price table.
func DefaultPrices() map[string]float64 {
	return map[string]float64{
		"gpt-4o":      15.0,
		"gpt-4o-mini": 0.5625,
		"o1-preview":  29.25,
		"o1-mini":     5.85,
	}
}

// NewGate creates a gate with an injected price table.
func NewGate(prices map[string]float64) *Gate {
	table := make(map[string]float64, len(prices))
	for model, price := range prices {
		table[model] = price
	}
	return &Gate{prices: table}
}

// Approve checks the model against the price table and the caller's balance.
// Unknown models are a hard rejection, never a zero-cost default.
func (g *Gate) Approve(model string, balance float64) (cost, remaining float64, err error) {
	cost, ok := g.prices[model]
	if !ok {
		return 0, 0, core.NewValidationErrorWithParam("the provided model name is invalid or not supported", "model")
	}
	if cost > balance {
		return cost, 0, core.NewPermissionError("insufficient credits to proceed with the action")
	}
	return cost, balance - cost, nil
}
