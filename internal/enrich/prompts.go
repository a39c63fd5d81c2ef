package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// Per-stage system prompts. Each demands a bare JSON object so parsing stays
// mechanical; cleanJSON handles models that fence the output anyway.
var systemPrompts = map[model.Stage]string{
	model.StageProfiling: `You analyze Reddit posts describing product or business ideas.
Build a profile of the person behind the idea and the audience it serves.
Respond with a single JSON object and nothing else:
{"persona": "<who has this problem>", "pain_level": <0-10>, "demographics": "<audience description>", "evidence": ["<quote or signal>"]}`,

	model.StageMonetization: `You analyze Reddit posts describing product or business ideas.
Assess how the idea could make money.
Respond with a single JSON object and nothing else:
{"revenue_model": "<subscription|one-time|ads|marketplace|unknown>", "monetization_score": <0-10>, "willingness_to_pay": "<low|medium|high>", "signals": ["<signal>"]}`,

	model.StageOpportunity: `You analyze Reddit posts describing product or business ideas.
Score the opportunity window for this specific post given its engagement.
Respond with a single JSON object and nothing else:
{"opportunity_score": <0-10>, "timing": "<early|ripe|late>", "rationale": "<one sentence>"}`,

	model.StageTrust: `You analyze Reddit posts describing product or business ideas.
Assess how credible the post and poster appear.
Respond with a single JSON object and nothing else:
{"trust_score": <0-10>, "red_flags": ["<flag>"], "rationale": "<one sentence>"}`,

	model.StageMarket: `You analyze Reddit posts describing product or business ideas.
Validate the market evidence for the idea in this post.
Respond with a single JSON object and nothing else:
{"market_score": <0-10>, "market_size": "<niche|moderate|large>", "competitors": ["<name>"], "rationale": "<one sentence>"}`,
}

func systemPrompt(stage model.Stage) string {
	return systemPrompts[stage]
}

// buildUserPrompt renders the submission for a stage, truncating the body to
// the given budget. Profiling additionally includes the monetization evidence
// produced earlier in the same run.
func buildUserPrompt(stage model.Stage, sub *model.Submission, bodyBudget int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subreddit: r/%s\n", sub.Subreddit)
	fmt.Fprintf(&sb, "Title: %s\n", sub.Title)
	fmt.Fprintf(&sb, "Score: %d, Comments: %d\n", sub.Score, sub.NumComments)

	if body := truncate(sub.Selftext, bodyBudget); body != "" {
		fmt.Fprintf(&sb, "Body:\n%s\n", body)
	}

	if stage == model.StageProfiling {
		if prior := sub.Result(model.StageMonetization); !prior.Empty() {
			if evidence, err := json.Marshal(prior.Payload); err == nil {
				fmt.Fprintf(&sb, "Monetization analysis of this idea:\n%s\n", evidence)
			}
		}
	}

	return sb.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	// back off to a rune boundary so the cut never splits a character
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
