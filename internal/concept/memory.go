package concept

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// MemoryStore is an in-process Store for dry runs and tests. It is the
// null-object backend selected explicitly by configuration, never substituted
// silently when a real store fails to construct.
type MemoryStore struct {
	mu       sync.Mutex
	byFP     map[string]*model.Concept
	byID     map[string]*model.Concept
	bySubmID map[string]*model.Concept
	results  []*model.StageResult
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		byFP:     make(map[string]*model.Concept),
		byID:     make(map[string]*model.Concept),
		bySubmID: make(map[string]*model.Concept),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func cloneConcept(c *model.Concept) *model.Concept {
	if c == nil {
		return nil
	}
	out := *c
	out.Stages = make(map[model.Stage]model.StageState, len(c.Stages))
	for k, v := range c.Stages {
		out.Stages[k] = v
	}
	return &out
}

func (s *MemoryStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConcept(s.byID[id]), nil
}

func (s *MemoryStore) GetConceptBySubmission(ctx context.Context, submissionID string) (*model.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConcept(s.bySubmID[submissionID]), nil
}

func (s *MemoryStore) GetOrCreateConcept(ctx context.Context, submissionID, conceptText string) (*model.Concept, error) {
	fp := Fingerprint(conceptText)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byFP[fp]; ok {
		existing.SubmissionCount++
		existing.UpdatedAt = time.Now().UTC()
		return cloneConcept(existing), nil
	}

	now := time.Now().UTC()
	c := &model.Concept{
		ID:                  uuid.NewString(),
		Fingerprint:         fp,
		PrimarySubmissionID: submissionID,
		Stages:              make(map[model.Stage]model.StageState),
		SubmissionCount:     1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.byFP[fp] = c
	s.byID[c.ID] = c
	s.bySubmID[submissionID] = c
	return cloneConcept(c), nil
}

func (s *MemoryStore) BumpSubmissionCounts(ctx context.Context, deltas map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, n := range deltas {
		if c, ok := s.byID[id]; ok {
			c.SubmissionCount += n
			c.UpdatedAt = now
		}
	}
	return nil
}

func (s *MemoryStore) MarkStageComplete(ctx context.Context, conceptID string, stage model.Stage, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[conceptID]
	if !ok {
		return nil
	}
	st := c.Stages[stage]
	st.Complete = true
	if score > st.BestScore {
		st.BestScore = score
	}
	c.Stages[stage] = st
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ResolveBatch(ctx context.Context, fingerprints []string) (map[string]*model.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*model.Concept, len(fingerprints))
	for _, fp := range fingerprints {
		if c, ok := s.byFP[fp]; ok {
			out[fp] = cloneConcept(c)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveResult(ctx context.Context, res *model.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *res
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	res.ID = cp.ID
	res.CreatedAt = cp.CreatedAt
	s.results = append(s.results, &cp)
	return nil
}

func (s *MemoryStore) LatestPrimaryResult(ctx context.Context, conceptID string, stage model.Stage) (*model.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Append order is creation order; scan backwards for the newest
	// non-copied result.
	for i := len(s.results) - 1; i >= 0; i-- {
		r := s.results[i]
		if r.ConceptID == conceptID && r.Stage == stage && r.Provenance != model.ProvenanceCopied {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListConcepts(ctx context.Context, limit int) ([]model.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Concept, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *cloneConcept(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmissionCount != out[j].SubmissionCount {
			return out[i].SubmissionCount > out[j].SubmissionCount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
