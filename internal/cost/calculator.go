// Package cost computes inference spend and dedup savings.
package cost

import (
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// Rates holds pricing configuration: fixed per-stage unit costs for savings
// accounting, plus per-model token pricing for fresh-call spend.
type Rates struct {
	// StageUnitCost is the fixed cost of one fresh inference run per stage,
	// in USD. Used to derive cost_saved = copied_count x unit cost.
	StageUnitCost map[model.Stage]float64 `yaml:"stage_unit_cost" mapstructure:"stage_unit_cost"`

	Claude map[string]ModelRate `yaml:"claude" mapstructure:"claude"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage and dedup savings.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// UnitCost returns the fixed fresh-run cost for a stage.
func (c *Calculator) UnitCost(stage model.Stage) float64 {
	return c.rates.StageUnitCost[stage]
}

// Saved returns the inference spend avoided by copying results for a stage.
func (c *Calculator) Saved(stage model.Stage, copied int) float64 {
	return float64(copied) * c.rates.StageUnitCost[stage]
}

// Claude computes the cost of a Claude API call from token usage.
func (c *Calculator) Claude(modelName string, input, output int64) float64 {
	rate, ok := c.rates.Claude[modelName]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		StageUnitCost: map[model.Stage]float64{
			model.StageProfiling:    0.045,
			model.StageMonetization: 0.030,
			model.StageOpportunity:  0.020,
			model.StageTrust:        0.025,
			model.StageMarket:       0.025,
		},
		Claude: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
