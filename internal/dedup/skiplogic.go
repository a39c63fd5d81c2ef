// Package dedup decides, per stage and submission, whether to spend an
// inference call or replicate the concept's existing primary analysis.
package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
)

// Skip decision reasons, stable for logging and assertions.
const (
	ReasonNotEligible     = "stage not dedup eligible"
	ReasonNoConcept       = "no concept resolved"
	ReasonPrimary         = "submission is concept primary"
	ReasonStageIncomplete = "stage not complete on concept"
	ReasonStageComplete   = "stage complete on concept"
)

// SkipLogic is the run-vs-copy gate for one stage. Stages that are not
// dedup eligible always run; everything ambiguous fails open to a fresh run
// so a dedup problem can never block enrichment.
type SkipLogic struct {
	stage model.Stage
	store concept.Store
	agg   *stats.Aggregator
}

// NewSkipLogic creates a SkipLogic for the given stage. The aggregator may be
// nil when counters are not wanted.
func NewSkipLogic(stage model.Stage, store concept.Store, agg *stats.Aggregator) *SkipLogic {
	return &SkipLogic{stage: stage, store: store, agg: agg}
}

// Stage returns the stage this gate covers.
func (l *SkipLogic) Stage() model.Stage { return l.stage }

// ShouldRun evaluates the run-vs-copy decision against an already resolved
// concept. The concept may be nil, meaning resolution found or produced
// nothing; that always falls open to a run.
func (l *SkipLogic) ShouldRun(sub *model.Submission, c *model.Concept) model.SkipDecision {
	if !l.stage.DedupEligible() {
		return model.SkipDecision{ShouldRun: true, Reason: ReasonNotEligible}
	}
	if c == nil {
		return model.SkipDecision{ShouldRun: true, Reason: ReasonNoConcept}
	}
	if c.PrimarySubmissionID == sub.ID {
		return model.SkipDecision{ShouldRun: true, Reason: ReasonPrimary, ConceptID: c.ID}
	}
	if !c.StageComplete(l.stage) {
		return model.SkipDecision{ShouldRun: true, Reason: ReasonStageIncomplete, ConceptID: c.ID}
	}
	return model.SkipDecision{ShouldRun: false, Reason: ReasonStageComplete, ConceptID: c.ID}
}

// CopyFromPrimary replicates the concept's latest fresh result for this stage
// onto the given submission, recording full provenance (source submission and
// copy timestamp) in the audit trail. Returns nil with no error when the
// concept has no fresh result to copy; the caller should fall back to a fresh
// run.
func (l *SkipLogic) CopyFromPrimary(ctx context.Context, sub *model.Submission, c *model.Concept) (*model.StageResult, error) {
	src, err := l.store.LatestPrimaryResult(ctx, c.ID, l.stage)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: lookup primary result for stage %s", l.stage)
	}
	if src.Empty() {
		// Flag set but no source row. Self-heals on the fresh run.
		zap.L().Warn("stage marked complete but no primary result found",
			zap.String("stage", string(l.stage)),
			zap.String("concept_id", c.ID),
			zap.String("submission_id", sub.ID))
		return nil, nil
	}

	now := time.Now().UTC()
	res := &model.StageResult{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		ConceptID:    c.ID,
		Stage:        l.stage,
		Payload:      src.Payload,
		Score:        src.Score,
		Provenance:   model.ProvenanceCopied,
		CopiedFrom:   src.SubmissionID,
		CopiedAt:     &now,
		CreatedAt:    now,
	}

	if err := l.store.SaveResult(ctx, res); err != nil {
		return nil, eris.Wrapf(err, "dedup: save copied result for stage %s", l.stage)
	}

	if l.agg != nil {
		l.agg.StageCopied(l.stage)
	}
	zap.L().Debug("copied stage result from primary",
		zap.String("stage", string(l.stage)),
		zap.String("submission_id", sub.ID),
		zap.String("copied_from", src.SubmissionID))
	return res, nil
}

// UpdateStageStats records a fresh run's outcome: the concept's stage flag is
// set (write-once-true, best score kept) and the analyzed counter bumps.
// Called only after a fresh result was produced and persisted.
func (l *SkipLogic) UpdateStageStats(ctx context.Context, conceptID string, score float64) error {
	if l.agg != nil {
		l.agg.StageAnalyzed(l.stage)
	}
	if conceptID == "" || !l.stage.DedupEligible() {
		return nil
	}
	if err := l.store.MarkStageComplete(ctx, conceptID, l.stage, score); err != nil {
		return eris.Wrapf(err, "dedup: mark stage %s complete", l.stage)
	}
	return nil
}
