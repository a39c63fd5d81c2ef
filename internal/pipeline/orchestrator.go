// Package pipeline orchestrates a batch run: fetch, quality filter, concept
// resolution, stage enrichment, storage, and the best-effort metadata update.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/config"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/cost"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/enrich"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/errdef"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/fetcher"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/sink"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
)

// Orchestrator wires the batch collaborators together. Construct with
// NewOrchestrator; every dependency is explicit.
type Orchestrator struct {
	cfg      *config.Config
	source   fetcher.Source
	concepts concept.Store
	services []enrich.Service
	sink     sink.Sink
	agg      *stats.Aggregator
	calc     *cost.Calculator
}

// NewOrchestrator creates an Orchestrator. Services must already be in
// dependency order, which enrich.Factory guarantees.
func NewOrchestrator(
	cfg *config.Config,
	source fetcher.Source,
	concepts concept.Store,
	services []enrich.Service,
	snk sink.Sink,
	agg *stats.Aggregator,
	calc *cost.Calculator,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		source:   source,
		concepts: concepts,
		services: services,
		sink:     snk,
		agg:      agg,
		calc:     calc,
	}
}

// BatchResult reports one batch run. On a fatal fetch or store error the
// result still carries the statistics accumulated up to the failure.
type BatchResult struct {
	Fetched  int
	Filtered int
	Enriched int
	Stored   int

	Statuses map[string]model.SubmissionStatus
	Stats    stats.Snapshot
	Duration time.Duration
}

// RunBatch executes one batch of up to limit submissions.
func (o *Orchestrator) RunBatch(ctx context.Context, limit int) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{Statuses: make(map[string]model.SubmissionStatus)}

	finish := func(err error) (*BatchResult, error) {
		res.Stats = o.agg.Snapshot(o.calc)
		res.Duration = time.Since(start)
		res.Stats.Log("batch finished")
		return res, err
	}

	// 1. Fetch. A source failure is fatal: there is nothing to process.
	subs, err := o.source.Fetch(ctx, limit, fetcher.Filters{Keywords: o.cfg.Reddit.Keywords})
	if err != nil {
		o.agg.AddError()
		return finish(eris.Wrap(err, "pipeline: fetch"))
	}
	o.agg.AddFetched(len(subs))
	res.Fetched = len(subs)

	// 2. Quality filter, a pure function of the submission.
	kept := filterQuality(subs, o.cfg.Pipeline)
	res.Filtered = len(subs) - len(kept)
	o.agg.AddFiltered(res.Filtered)
	for i := 0; i < res.Filtered; i++ {
		for _, svc := range o.services {
			o.agg.StageSkipped(svc.Stage())
		}
	}
	for i := range kept {
		res.Statuses[kept[i].ID] = model.StatusFetched
	}
	if len(kept) == 0 {
		return finish(nil)
	}

	// 3. Concept resolution for the whole batch at once.
	conceptBySub, bumps := o.resolveConcepts(ctx, kept, res.Statuses)

	// 4. Enrichment across a bounded worker pool. Stages within one
	// submission run sequentially in dependency order.
	o.enrichAll(ctx, kept, conceptBySub, res.Statuses)
	res.Enriched = len(kept)

	// 5. Store the batch with a merge upsert so reruns are idempotent.
	records := make([]sink.Record, len(kept))
	for i := range kept {
		records[i] = sink.SubmissionRecord(&kept[i])
	}
	err = o.sink.Load(ctx, records, o.cfg.Sink.Table, sink.WriteModeMerge, []string{"id"}, sink.SubmissionTypeHints())
	if err != nil {
		o.agg.AddError()
		return finish(eris.Wrap(err, "pipeline: store batch"))
	}
	o.agg.AddStored(len(kept))
	res.Stored = len(kept)
	for i := range kept {
		res.Statuses[kept[i].ID] = model.StatusStored
	}

	// 6. Metadata update is best effort and never fails the batch.
	if err := o.concepts.BumpSubmissionCounts(ctx, bumps); err != nil {
		zap.L().Warn("concept metadata update failed",
			zap.Error(&errdef.MetadataUpdateError{Err: err}))
	} else {
		for i := range kept {
			res.Statuses[kept[i].ID] = model.StatusMetadataUpdated
		}
	}

	return finish(nil)
}

// resolveConcepts maps each kept submission to its concept. Existing concepts
// come back from a single two-query batch lookup; unseen fingerprints are
// created one statement each. Every failure fails open: a submission without
// a concept simply enriches fresh.
func (o *Orchestrator) resolveConcepts(ctx context.Context, kept []model.Submission, statuses map[string]model.SubmissionStatus) (map[string]*model.Concept, map[string]int) {
	fps := make([]string, 0, len(kept))
	seen := make(map[string]bool, len(kept))
	for i := range kept {
		fp := concept.Fingerprint(kept[i].ConceptText())
		if !seen[fp] {
			seen[fp] = true
			fps = append(fps, fp)
		}
	}

	resolved, err := o.concepts.ResolveBatch(ctx, fps)
	if err != nil {
		zap.L().Warn("batch concept resolution failed, enriching fresh", zap.Error(err))
		resolved = make(map[string]*model.Concept)
	}

	conceptBySub := make(map[string]*model.Concept, len(kept))
	bumps := make(map[string]int)
	for i := range kept {
		sub := &kept[i]
		fp := concept.Fingerprint(sub.ConceptText())

		c := resolved[fp]
		if c == nil {
			c, err = o.concepts.GetOrCreateConcept(ctx, sub.ID, sub.ConceptText())
			if err != nil {
				zap.L().Warn("concept creation failed, enriching fresh",
					zap.String("submission_id", sub.ID), zap.Error(err))
				continue
			}
			resolved[fp] = c
		} else {
			bumps[c.ID]++
		}

		id := c.ID
		sub.ConceptID = &id
		conceptBySub[sub.ID] = c
		statuses[sub.ID] = model.StatusConceptResolved
	}

	return conceptBySub, bumps
}

// enrichAll runs every configured stage over every submission. Concurrency is
// across submissions only, so within one submission monetization completes
// before profiling consumes its output.
func (o *Orchestrator) enrichAll(ctx context.Context, kept []model.Submission, conceptBySub map[string]*model.Concept, statuses map[string]model.SubmissionStatus) {
	concurrency := o.cfg.Pipeline.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range kept {
		sub := &kept[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			status := o.enrichOne(gctx, sub, conceptBySub[sub.ID])
			mu.Lock()
			statuses[sub.ID] = status
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		zap.L().Warn("enrichment interrupted", zap.Error(err))
	}
}

// enrichOne runs the stage services for a single submission. Validation
// failures abort the stage and count as errors; everything else degrades
// inside the service.
func (o *Orchestrator) enrichOne(ctx context.Context, sub *model.Submission, c *model.Concept) model.SubmissionStatus {
	fresh, copied := 0, 0
	for _, svc := range o.services {
		res, err := svc.Enrich(ctx, sub, c)
		if err != nil {
			zap.L().Debug("stage input rejected",
				zap.String("stage", string(svc.Stage())),
				zap.String("submission_id", sub.ID),
				zap.Error(err))
			continue
		}
		sub.SetResult(res)
		if res.Provenance == model.ProvenanceCopied {
			copied++
		} else {
			fresh++
		}
	}

	if copied > 0 && fresh == 0 {
		return model.StatusCopied
	}
	if fresh == 0 && copied == 0 {
		return model.StatusErrored
	}
	return model.StatusFreshEnriched
}

// filterQuality drops submissions below the configured engagement and length
// thresholds. Pure; no counters, no I/O.
func filterQuality(subs []model.Submission, cfg config.PipelineConfig) []model.Submission {
	out := make([]model.Submission, 0, len(subs))
	for _, sub := range subs {
		if sub.Score < cfg.MinScore {
			continue
		}
		if sub.NumComments < cfg.MinComments {
			continue
		}
		if len(sub.Selftext) < cfg.MinTextLength {
			continue
		}
		out = append(out, sub)
	}
	return out
}
