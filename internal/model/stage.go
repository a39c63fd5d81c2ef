package model

import (
	"github.com/rotisserie/eris"
)

// Stage identifies one independently invokable enrichment step.
type Stage string

const (
	// StageMonetization scores revenue potential. It produces evidence
	// consumed by profiling, so it must run first within a submission.
	StageMonetization Stage = "monetization"
	// StageProfiling builds the founder/user profile for an idea.
	StageProfiling Stage = "profiling"
	// StageOpportunity scores the submission-specific opportunity window.
	StageOpportunity Stage = "opportunity"
	// StageTrust validates trust signals around the submission.
	StageTrust Stage = "trust"
	// StageMarket validates market evidence for the submission.
	StageMarket Stage = "market"
)

// AllStages returns every enrichment stage in declaration order.
func AllStages() []Stage {
	return []Stage{StageMonetization, StageProfiling, StageOpportunity, StageTrust, StageMarket}
}

// DedupEligible reports whether results for this stage are concept-level and
// may be copied from the primary submission instead of re-running inference.
// Opportunity, trust, and market evidence is submission-specific, so those
// stages always run fresh.
func (s Stage) DedupEligible() bool {
	return s == StageProfiling || s == StageMonetization
}

// ContentBearing reports whether the stage needs non-empty body text in
// addition to id/title/subreddit.
func (s Stage) ContentBearing() bool {
	return s != StageOpportunity
}

// stageDeps declares "consumes evidence from" edges between stages.
// Profiling consumes monetization output as evidence input, so monetization
// must complete (fresh or copied) before profiling begins.
var stageDeps = map[Stage][]Stage{
	StageProfiling: {StageMonetization},
}

// ConsumesFrom returns the stages whose output this stage consumes.
func (s Stage) ConsumesFrom() []Stage {
	return stageDeps[s]
}

// OrderStages topologically sorts the given stage set so that every stage
// runs after the stages it consumes evidence from. Dependencies outside the
// given set are ignored. Ties keep the input order, so the result is
// deterministic. Returns an error if the declared edges form a cycle.
func OrderStages(stages []Stage) ([]Stage, error) {
	enabled := make(map[Stage]bool, len(stages))
	for _, s := range stages {
		enabled[s] = true
	}

	indegree := make(map[Stage]int, len(stages))
	dependents := make(map[Stage][]Stage, len(stages))
	for _, s := range stages {
		indegree[s] += 0
		for _, dep := range s.ConsumesFrom() {
			if !enabled[dep] {
				continue
			}
			indegree[s]++
			dependents[dep] = append(dependents[dep], s)
		}
	}

	ordered := make([]Stage, 0, len(stages))
	// Kahn's algorithm; the ready queue is rebuilt from input order each
	// round to keep the output stable.
	done := make(map[Stage]bool, len(stages))
	for len(ordered) < len(stages) {
		progressed := false
		for _, s := range stages {
			if done[s] || indegree[s] > 0 {
				continue
			}
			done[s] = true
			ordered = append(ordered, s)
			for _, d := range dependents[s] {
				indegree[d]--
			}
			progressed = true
		}
		if !progressed {
			return nil, eris.New("model: stage dependency cycle")
		}
	}

	return ordered, nil
}

// ParseStage validates a stage name from config or CLI input.
func ParseStage(name string) (Stage, error) {
	for _, s := range AllStages() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", eris.Errorf("model: unknown stage %q", name)
}
