// Package stats aggregates pipeline and per-stage run counters and derives
// dedup-rate and cost-saved figures.
package stats

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/cost"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// StageCounters tracks per-stage outcomes.
type StageCounters struct {
	Analyzed int `json:"analyzed" yaml:"analyzed"`
	Copied   int `json:"copied" yaml:"copied"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Errors   int `json:"errors" yaml:"errors"`
	Retries  int `json:"retries" yaml:"retries"`
}

// DedupRate is the fraction of stage results satisfied by copy instead of
// fresh inference.
func (c StageCounters) DedupRate() float64 {
	total := c.Analyzed + c.Copied
	if total == 0 {
		return 0
	}
	return float64(c.Copied) / float64(total)
}

// Aggregator accumulates counters across a batch. Safe for concurrent use;
// Reset supports reuse across repeated runs without reconstructing owners.
type Aggregator struct {
	mu sync.Mutex

	fetched  int
	filtered int
	stored   int
	errors   int

	stages map[model.Stage]*StageCounters
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{stages: make(map[model.Stage]*StageCounters)}
}

func (a *Aggregator) stage(s model.Stage) *StageCounters {
	c, ok := a.stages[s]
	if !ok {
		c = &StageCounters{}
		a.stages[s] = c
	}
	return c
}

// AddFetched records n submissions returned by the source.
func (a *Aggregator) AddFetched(n int) {
	a.mu.Lock()
	a.fetched += n
	a.mu.Unlock()
}

// AddFiltered records n submissions removed by the quality filter.
func (a *Aggregator) AddFiltered(n int) {
	a.mu.Lock()
	a.filtered += n
	a.mu.Unlock()
}

// AddStored records n submissions persisted by the sink.
func (a *Aggregator) AddStored(n int) {
	a.mu.Lock()
	a.stored += n
	a.mu.Unlock()
}

// AddError records a pipeline-level error.
func (a *Aggregator) AddError() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}

// StageAnalyzed records a fresh inference run for a stage.
func (a *Aggregator) StageAnalyzed(s model.Stage) {
	a.mu.Lock()
	a.stage(s).Analyzed++
	a.mu.Unlock()
}

// StageCopied records a copied result for a stage.
func (a *Aggregator) StageCopied(s model.Stage) {
	a.mu.Lock()
	a.stage(s).Copied++
	a.mu.Unlock()
}

// StageSkipped records a skip decision for a stage.
func (a *Aggregator) StageSkipped(s model.Stage) {
	a.mu.Lock()
	a.stage(s).Skipped++
	a.mu.Unlock()
}

// StageError records a stage-level failure.
func (a *Aggregator) StageError(s model.Stage) {
	a.mu.Lock()
	a.stage(s).Errors++
	a.mu.Unlock()
}

// StageRetries records n retries performed during a stage call.
func (a *Aggregator) StageRetries(s model.Stage, n int) {
	if n == 0 {
		return
	}
	a.mu.Lock()
	a.stage(s).Retries += n
	a.mu.Unlock()
}

// Reset zeroes every counter so the aggregator can be reused for another run.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.fetched = 0
	a.filtered = 0
	a.stored = 0
	a.errors = 0
	a.stages = make(map[model.Stage]*StageCounters)
	a.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters plus derived figures.
type Snapshot struct {
	Fetched  int `json:"fetched" yaml:"fetched"`
	Filtered int `json:"filtered" yaml:"filtered"`
	Analyzed int `json:"analyzed" yaml:"analyzed"`
	Copied   int `json:"copied" yaml:"copied"`
	Stored   int `json:"stored" yaml:"stored"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Errors   int `json:"errors" yaml:"errors"`

	DedupRate float64 `json:"dedup_rate" yaml:"dedup_rate"`
	CostSaved float64 `json:"cost_saved_usd" yaml:"cost_saved_usd"`

	Stages map[model.Stage]StageCounters `json:"stages" yaml:"stages"`
}

// Snapshot derives dedup rate and cost savings from the current counters.
// The calculator may be nil, in which case CostSaved is zero.
func (a *Aggregator) Snapshot(calc *cost.Calculator) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Fetched:  a.fetched,
		Filtered: a.filtered,
		Stored:   a.stored,
		Errors:   a.errors,
		Stages:   make(map[model.Stage]StageCounters, len(a.stages)),
	}

	for s, c := range a.stages {
		snap.Stages[s] = *c
		snap.Analyzed += c.Analyzed
		snap.Copied += c.Copied
		snap.Skipped += c.Skipped
		snap.Errors += c.Errors
		if calc != nil {
			snap.CostSaved += calc.Saved(s, c.Copied)
		}
	}

	if total := snap.Analyzed + snap.Copied; total > 0 {
		snap.DedupRate = float64(snap.Copied) / float64(total)
	}

	return snap
}

// Log emits the snapshot as structured fields.
func (s Snapshot) Log(msg string) {
	zap.L().Info(msg,
		zap.Int("fetched", s.Fetched),
		zap.Int("filtered", s.Filtered),
		zap.Int("analyzed", s.Analyzed),
		zap.Int("copied", s.Copied),
		zap.Int("stored", s.Stored),
		zap.Int("errors", s.Errors),
		zap.Float64("dedup_rate", s.DedupRate),
		zap.Float64("cost_saved_usd", s.CostSaved),
	)
}
