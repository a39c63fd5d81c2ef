package enrich

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// stageSchemas lists the fields a stage payload must carry and the field its
// score is read from.
var stageSchemas = map[model.Stage]struct {
	required []string
	score    string
}{
	model.StageProfiling:    {required: []string{"persona", "pain_level"}, score: "pain_level"},
	model.StageMonetization: {required: []string{"revenue_model", "monetization_score"}, score: "monetization_score"},
	model.StageOpportunity:  {required: []string{"opportunity_score"}, score: "opportunity_score"},
	model.StageTrust:        {required: []string{"trust_score"}, score: "trust_score"},
	model.StageMarket:       {required: []string{"market_score"}, score: "market_score"},
}

// parsePayload decodes a model response into the stage's payload, repairing
// fenced output before rejecting it. Missing required fields fail the parse.
func parsePayload(stage model.Stage, text string) (map[string]any, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.Errorf("enrich: empty response for stage %s", stage)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, eris.Wrapf(err, "enrich: decode %s payload", stage)
	}

	schema := stageSchemas[stage]
	for _, field := range schema.required {
		if _, ok := payload[field]; !ok {
			return nil, eris.Errorf("enrich: %s payload missing %q", stage, field)
		}
	}
	return payload, nil
}

// extractScore reads the stage's score field, clamped to [0, 10].
func extractScore(stage model.Stage, payload map[string]any) float64 {
	v, ok := payload[stageSchemas[stage].score].(float64)
	if !ok {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// fallbackPayload is the deterministic neutral result substituted when every
// inference attempt failed. Scores are zero so fallbacks never rank.
func fallbackPayload(stage model.Stage) map[string]any {
	switch stage {
	case model.StageProfiling:
		return map[string]any{"persona": "unknown", "pain_level": 0.0, "demographics": "", "evidence": []any{}}
	case model.StageMonetization:
		return map[string]any{"revenue_model": "unknown", "monetization_score": 0.0, "willingness_to_pay": "low", "signals": []any{}}
	case model.StageOpportunity:
		return map[string]any{"opportunity_score": 0.0, "timing": "unknown", "rationale": ""}
	case model.StageTrust:
		return map[string]any{"trust_score": 0.0, "red_flags": []any{}, "rationale": ""}
	case model.StageMarket:
		return map[string]any{"market_score": 0.0, "market_size": "unknown", "competitors": []any{}, "rationale": ""}
	default:
		return map[string]any{}
	}
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
