package concept

import (
	"context"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// Store is the concept metadata collaborator: concept identity, per-stage
// completion flags, and the stage-result audit trail used as the copy source.
type Store interface {
	// GetConcept returns a concept by id, or nil if absent.
	GetConcept(ctx context.Context, id string) (*model.Concept, error)

	// GetConceptBySubmission returns the concept whose primary submission
	// is the given id, or nil if absent.
	GetConceptBySubmission(ctx context.Context, submissionID string) (*model.Concept, error)

	// GetOrCreateConcept resolves the concept for the given text, creating
	// it atomically on first sighting (insert against the fingerprint
	// uniqueness constraint, never check-then-insert). Existing concepts
	// get their submission count incremented.
	GetOrCreateConcept(ctx context.Context, submissionID, conceptText string) (*model.Concept, error)

	// MarkStageComplete is idempotent: the flag is write-once-true and the
	// score is kept only if higher than the recorded best. Safe under
	// concurrent retries.
	MarkStageComplete(ctx context.Context, conceptID string, stage model.Stage, score float64) error

	// ResolveBatch returns concepts (with stage flags loaded) for the
	// given fingerprints using at most two aggregate queries, keyed by
	// fingerprint. Missing fingerprints are simply absent from the map.
	ResolveBatch(ctx context.Context, fingerprints []string) (map[string]*model.Concept, error)

	// BumpSubmissionCounts adds the given deltas to existing concepts'
	// submission counts in one aggregate statement. Unknown ids are
	// ignored. Used by the batch metadata update step.
	BumpSubmissionCounts(ctx context.Context, deltas map[string]int) error

	// SaveResult appends a stage result to the audit trail.
	SaveResult(ctx context.Context, res *model.StageResult) error

	// LatestPrimaryResult returns the most recently produced non-copied
	// result for the concept and stage, or nil if none exists.
	LatestPrimaryResult(ctx context.Context, conceptID string, stage model.Stage) (*model.StageResult, error)

	// ListConcepts returns up to limit concepts ordered by submission
	// count descending.
	ListConcepts(ctx context.Context, limit int) ([]model.Concept, error)

	Migrate(ctx context.Context) error
	Close() error
}
