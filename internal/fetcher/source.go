// Package fetcher provides submission sources for the pipeline: stored rows
// from Postgres or live subreddit listings.
package fetcher

import (
	"context"
	"strings"
	"sync"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// Filters narrow what a source returns before the pipeline's quality filter
// runs. Keyword matching is case-insensitive over title and body.
type Filters struct {
	Keywords []string
}

// Match reports whether the submission passes the keyword pre-filter. No
// keywords means everything passes.
func (f Filters) Match(sub *model.Submission) bool {
	if len(f.Keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(sub.Title + " " + sub.Selftext)
	for _, kw := range f.Keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Source supplies submissions to the pipeline.
type Source interface {
	// Fetch returns up to limit submissions matching the filters. Repeated
	// calls page forward; an empty slice means the source is exhausted.
	Fetch(ctx context.Context, limit int, filters Filters) ([]model.Submission, error)

	// Counters returns a snapshot of what the source has seen so far.
	Counters() SourceCounters
}

// SourceCounters tracks source-side attrition.
type SourceCounters struct {
	Fetched  int `json:"fetched"`
	Filtered int `json:"filtered"`
	Deduped  int `json:"deduped"`
	Errors   int `json:"errors"`
}

// counterSet is the shared mutex-guarded counter implementation.
type counterSet struct {
	mu sync.Mutex
	c  SourceCounters
}

func (s *counterSet) add(fetched, filtered, deduped int) {
	s.mu.Lock()
	s.c.Fetched += fetched
	s.c.Filtered += filtered
	s.c.Deduped += deduped
	s.mu.Unlock()
}

func (s *counterSet) addError() {
	s.mu.Lock()
	s.c.Errors++
	s.mu.Unlock()
}

func (s *counterSet) snapshot() SourceCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}
