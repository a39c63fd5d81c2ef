package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/cost"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
)

func seedConcept(t *testing.T, store concept.Store, title string) *model.Concept {
	t.Helper()
	c, err := store.GetOrCreateConcept(context.Background(), "sub-primary", title)
	require.NoError(t, err)
	return c
}

func TestShouldRun_NotEligibleAlwaysRuns(t *testing.T) {
	store := concept.NewMemory()
	l := NewSkipLogic(model.StageOpportunity, store, nil)

	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, store.MarkStageComplete(context.Background(), c.ID, model.StageOpportunity, 5))

	dec := l.ShouldRun(&model.Submission{ID: "sub-dup"}, c)
	assert.True(t, dec.ShouldRun)
	assert.Equal(t, ReasonNotEligible, dec.Reason)
}

func TestShouldRun_NoConceptFailsOpen(t *testing.T) {
	l := NewSkipLogic(model.StageProfiling, concept.NewMemory(), nil)

	dec := l.ShouldRun(&model.Submission{ID: "sub-1"}, nil)
	assert.True(t, dec.ShouldRun)
	assert.Equal(t, ReasonNoConcept, dec.Reason)
}

func TestShouldRun_PrimaryAlwaysRuns(t *testing.T) {
	store := concept.NewMemory()
	l := NewSkipLogic(model.StageProfiling, store, nil)
	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, store.MarkStageComplete(context.Background(), c.ID, model.StageProfiling, 7))

	dec := l.ShouldRun(&model.Submission{ID: "sub-primary"}, c)
	assert.True(t, dec.ShouldRun)
	assert.Equal(t, ReasonPrimary, dec.Reason)
}

func TestShouldRun_IncompleteRuns(t *testing.T) {
	store := concept.NewMemory()
	l := NewSkipLogic(model.StageProfiling, store, nil)
	c := seedConcept(t, store, "Budget Tracker")

	dec := l.ShouldRun(&model.Submission{ID: "sub-dup"}, c)
	assert.True(t, dec.ShouldRun)
	assert.Equal(t, ReasonStageIncomplete, dec.Reason)
	assert.Equal(t, c.ID, dec.ConceptID)
}

func TestShouldRun_CompleteCopies(t *testing.T) {
	store := concept.NewMemory()
	l := NewSkipLogic(model.StageMonetization, store, nil)
	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, store.MarkStageComplete(context.Background(), c.ID, model.StageMonetization, 6))

	// Reload so the stage flag is visible.
	c, err := store.GetConcept(context.Background(), c.ID)
	require.NoError(t, err)

	dec := l.ShouldRun(&model.Submission{ID: "sub-dup"}, c)
	assert.False(t, dec.ShouldRun)
	assert.Equal(t, ReasonStageComplete, dec.Reason)
	assert.Equal(t, c.ID, dec.ConceptID)
}

func TestCopyFromPrimary(t *testing.T) {
	ctx := context.Background()
	store := concept.NewMemory()
	agg := stats.NewAggregator()
	l := NewSkipLogic(model.StageProfiling, store, agg)

	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, store.SaveResult(ctx, &model.StageResult{
		SubmissionID: "sub-primary",
		ConceptID:    c.ID,
		Stage:        model.StageProfiling,
		Payload:      map[string]any{"persona": "freelancer", "pain_level": 8.0},
		Score:        8.0,
		Provenance:   model.ProvenanceFresh,
	}))

	dup := &model.Submission{ID: "sub-dup"}
	res, err := l.CopyFromPrimary(ctx, dup, c)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.ProvenanceCopied, res.Provenance)
	assert.Equal(t, "sub-primary", res.CopiedFrom)
	assert.Equal(t, "sub-dup", res.SubmissionID)
	assert.Equal(t, c.ID, res.ConceptID)
	assert.NotNil(t, res.CopiedAt)
	assert.Equal(t, "freelancer", res.Payload["persona"])
	assert.InDelta(t, 8.0, res.Score, 1e-9)

	snap := agg.Snapshot(nil)
	assert.Equal(t, 1, snap.Copied)
	assert.Equal(t, 0, snap.Analyzed)
}

func TestCopyFromPrimary_NeverCopiesACopy(t *testing.T) {
	ctx := context.Background()
	store := concept.NewMemory()
	l := NewSkipLogic(model.StageProfiling, store, nil)

	c := seedConcept(t, store, "Budget Tracker")
	// Only a copied row exists, which is not a valid copy source.
	require.NoError(t, store.SaveResult(ctx, &model.StageResult{
		SubmissionID: "sub-other",
		ConceptID:    c.ID,
		Stage:        model.StageProfiling,
		Payload:      map[string]any{"persona": "freelancer"},
		Provenance:   model.ProvenanceCopied,
		CopiedFrom:   "sub-primary",
	}))

	res, err := l.CopyFromPrimary(ctx, &model.Submission{ID: "sub-dup"}, c)
	require.NoError(t, err)
	assert.Nil(t, res, "copy should fall back to a fresh run when no primary result exists")
}

func TestCopyFromPrimary_NoSourceFallsBack(t *testing.T) {
	store := concept.NewMemory()
	l := NewSkipLogic(model.StageMonetization, store, nil)
	c := seedConcept(t, store, "Budget Tracker")

	res, err := l.CopyFromPrimary(context.Background(), &model.Submission{ID: "sub-dup"}, c)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestUpdateStageStats(t *testing.T) {
	ctx := context.Background()
	store := concept.NewMemory()
	agg := stats.NewAggregator()
	l := NewSkipLogic(model.StageMonetization, store, agg)

	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, l.UpdateStageStats(ctx, c.ID, 6.5))

	reloaded, err := store.GetConcept(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.StageComplete(model.StageMonetization))
	assert.InDelta(t, 6.5, reloaded.Stages[model.StageMonetization].BestScore, 1e-9)

	snap := agg.Snapshot(nil)
	assert.Equal(t, 1, snap.Analyzed)
}

func TestUpdateStageStats_NonEligibleCountsOnly(t *testing.T) {
	ctx := context.Background()
	store := concept.NewMemory()
	agg := stats.NewAggregator()
	l := NewSkipLogic(model.StageTrust, store, agg)

	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, l.UpdateStageStats(ctx, c.ID, 4))

	reloaded, err := store.GetConcept(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.StageComplete(model.StageTrust))
	assert.Equal(t, 1, agg.Snapshot(nil).Analyzed)
}

func TestDedupSavingsFlowIntoSnapshot(t *testing.T) {
	ctx := context.Background()
	store := concept.NewMemory()
	agg := stats.NewAggregator()
	l := NewSkipLogic(model.StageProfiling, store, agg)

	c := seedConcept(t, store, "Budget Tracker")
	require.NoError(t, store.SaveResult(ctx, &model.StageResult{
		SubmissionID: "sub-primary",
		ConceptID:    c.ID,
		Stage:        model.StageProfiling,
		Payload:      map[string]any{"persona": "freelancer"},
		Score:        7.0,
		Provenance:   model.ProvenanceFresh,
	}))

	for _, id := range []string{"dup-1", "dup-2", "dup-3"} {
		res, err := l.CopyFromPrimary(ctx, &model.Submission{ID: id}, c)
		require.NoError(t, err)
		require.NotNil(t, res)
	}
	require.NoError(t, l.UpdateStageStats(ctx, c.ID, 7.0))

	calc := cost.NewCalculator(cost.DefaultRates())
	snap := agg.Snapshot(calc)
	assert.InDelta(t, 0.75, snap.DedupRate, 1e-9)
	assert.InDelta(t, 3*calc.UnitCost(model.StageProfiling), snap.CostSaved, 1e-9)
}
