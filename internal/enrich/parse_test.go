package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

func TestParsePayload_PlainObject(t *testing.T) {
	payload, err := parsePayload(model.StageTrust, `{"trust_score": 6.5, "red_flags": []}`)
	require.NoError(t, err)
	assert.InDelta(t, 6.5, extractScore(model.StageTrust, payload), 1e-9)
}

func TestParsePayload_StripsFences(t *testing.T) {
	fenced := "```json\n{\"opportunity_score\": 4, \"timing\": \"late\"}\n```"
	payload, err := parsePayload(model.StageOpportunity, fenced)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, extractScore(model.StageOpportunity, payload), 1e-9)
}

func TestParsePayload_ExtractsObjectFromProse(t *testing.T) {
	text := `Here is the analysis you asked for: {"monetization_score": 9, "revenue_model": "ads"} hope that helps`
	payload, err := parsePayload(model.StageMonetization, text)
	require.NoError(t, err)
	assert.Equal(t, "ads", payload["revenue_model"])
}

func TestParsePayload_MissingRequiredField(t *testing.T) {
	_, err := parsePayload(model.StageProfiling, `{"persona": "freelancer"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pain_level")
}

func TestParsePayload_EmptyAndGarbage(t *testing.T) {
	_, err := parsePayload(model.StageMarket, "")
	assert.Error(t, err)

	_, err = parsePayload(model.StageMarket, "not json at all")
	assert.Error(t, err)
}

func TestExtractScore_Clamps(t *testing.T) {
	assert.InDelta(t, 10.0, extractScore(model.StageTrust, map[string]any{"trust_score": 99.0}), 1e-9)
	assert.Zero(t, extractScore(model.StageTrust, map[string]any{"trust_score": -3.0}))
	assert.Zero(t, extractScore(model.StageTrust, map[string]any{"trust_score": "high"}))
	assert.Zero(t, extractScore(model.StageTrust, map[string]any{}))
}

func TestFallbackPayload_SatisfiesSchema(t *testing.T) {
	for _, stage := range model.AllStages() {
		payload := fallbackPayload(stage)
		for _, field := range stageSchemas[stage].required {
			assert.Contains(t, payload, field, "stage %s fallback missing %s", stage, field)
		}
		assert.Zero(t, extractScore(stage, payload), "stage %s fallback must not rank", stage)
	}
}
