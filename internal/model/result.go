package model

import (
	"time"
)

// Provenance marks how a stage result was produced.
type Provenance string

const (
	// ProvenanceFresh means the result came from a new inference call.
	ProvenanceFresh Provenance = "fresh"
	// ProvenanceCopied means the result was replicated from the primary
	// submission's analysis. Copies are never themselves used as a copy
	// source.
	ProvenanceCopied Provenance = "copied"
)

// StageResult is one stage's structured output for one submission, plus the
// provenance audit trail for copies.
type StageResult struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	ConceptID    string         `json:"concept_id,omitempty"`
	Stage        Stage          `json:"stage"`
	Payload      map[string]any `json:"payload"`
	Score        float64        `json:"score"`

	Provenance Provenance `json:"provenance"`
	CopiedFrom string     `json:"copied_from,omitempty"`
	CopiedAt   *time.Time `json:"copied_at,omitempty"`

	FallbackUsed   bool   `json:"fallback_used,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Retries        int    `json:"retries,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Empty reports whether the result carries no payload.
func (r *StageResult) Empty() bool {
	return r == nil || len(r.Payload) == 0
}
