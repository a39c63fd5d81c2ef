package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/config"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

func TestParseStages(t *testing.T) {
	stages, err := parseStages([]string{"monetization", "profiling"})
	require.NoError(t, err)
	assert.Equal(t, []model.Stage{model.StageMonetization, model.StageProfiling}, stages)

	stages, err = parseStages(nil)
	require.NoError(t, err)
	assert.Equal(t, model.AllStages(), stages)

	_, err = parseStages([]string{"sentiment"})
	assert.Error(t, err)
}

func TestPricingRates_OverlaysConfig(t *testing.T) {
	old := cfg
	t.Cleanup(func() { cfg = old })

	cfg = &config.Config{}
	cfg.Pricing.StageUnitCost = map[string]float64{
		"profiling": 0.10,
		"bogus":     9.99,
	}

	rates := pricingRates()
	assert.Equal(t, 0.10, rates.StageUnitCost[model.StageProfiling])
	// unconfigured stages keep their defaults, unknown names are dropped
	assert.Greater(t, rates.StageUnitCost[model.StageTrust], 0.0)
	assert.Len(t, rates.StageUnitCost, len(model.AllStages()))
}
