package model

import (
	"time"
)

// StageState is the per-stage completion record on a concept. Complete is
// write-once-true; BestScore only ever increases.
type StageState struct {
	Complete  bool    `json:"complete"`
	BestScore float64 `json:"best_score"`
}

// Concept is the canonical record that duplicate and cross-posted submissions
// map onto. Identity is the fingerprint (content hash of the normalized
// concept text). PrimarySubmissionID is immutable once set; concepts are
// never deleted.
type Concept struct {
	ID                  string               `json:"id"`
	Fingerprint         string               `json:"fingerprint"`
	PrimarySubmissionID string               `json:"primary_submission_id"`
	Stages              map[Stage]StageState `json:"stages"`
	SubmissionCount     int                  `json:"submission_count"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// StageComplete reports whether the given stage has completed for this concept.
func (c *Concept) StageComplete(stage Stage) bool {
	if c == nil {
		return false
	}
	return c.Stages[stage].Complete
}

// SatisfiesAll reports whether every given stage is complete.
func (c *Concept) SatisfiesAll(stages []Stage) bool {
	for _, s := range stages {
		if !c.StageComplete(s) {
			return false
		}
	}
	return true
}

// SkipDecision is the outcome of the run-vs-copy check for one submission and
// stage. Pure value, never persisted.
type SkipDecision struct {
	ShouldRun bool   `json:"should_run"`
	Reason    string `json:"reason"`
	ConceptID string `json:"concept_id,omitempty"`
}
