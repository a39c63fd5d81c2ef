// Package enrich implements the per-stage AI enrichment services behind a
// uniform contract. A service never lets an error or panic escape: failures
// after retry exhaustion degrade to a deterministic neutral payload so one
// bad submission cannot take down a batch.
package enrich

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/dedup"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/errdef"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/resilience"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/claude"
)

// Service is one enrichment stage. Enrich receives the submission together
// with its batch-resolved concept (nil when resolution produced none) so the
// run-vs-copy decision needs no extra lookups. The only error Enrich returns
// is a validation error; inference failures surface as fallback results.
type Service interface {
	Stage() model.Stage
	Enrich(ctx context.Context, sub *model.Submission, c *model.Concept) (*model.StageResult, error)
}

// Options configures the inference calls shared by all stages.
type Options struct {
	Model     string
	MaxTokens int64
	// MaxPromptChars bounds the submission body included in the prompt.
	// Halved on each retry attempt so retries do not compound rate limits.
	MaxPromptChars int
	Retry          resilience.RetryConfig
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-haiku-4-5-20251001"
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 2048
	}
	if o.MaxPromptChars == 0 {
		o.MaxPromptChars = 6000
	}
	return o
}

// llmService is the shared implementation behind every stage service.
type llmService struct {
	stage   model.Stage
	client  claude.Client
	store   concept.Store
	skip    *dedup.SkipLogic
	agg     *stats.Aggregator
	breaker *resilience.CircuitBreaker
	opts    Options
}

func newLLMService(stage model.Stage, client claude.Client, store concept.Store, agg *stats.Aggregator, breaker *resilience.CircuitBreaker, opts Options) *llmService {
	return &llmService{
		stage:   stage,
		client:  client,
		store:   store,
		skip:    dedup.NewSkipLogic(stage, store, agg),
		agg:     agg,
		breaker: breaker,
		opts:    opts.withDefaults(),
	}
}

func (s *llmService) Stage() model.Stage { return s.stage }

// validateInput checks the fields a stage needs before spending a call.
func (s *llmService) validateInput(sub *model.Submission) error {
	switch {
	case sub.ID == "":
		return &errdef.ValidationError{SubmissionID: sub.ID, Stage: string(s.stage), Field: "id"}
	case sub.Title == "":
		return &errdef.ValidationError{SubmissionID: sub.ID, Stage: string(s.stage), Field: "title"}
	case sub.Subreddit == "":
		return &errdef.ValidationError{SubmissionID: sub.ID, Stage: string(s.stage), Field: "subreddit"}
	}
	if s.stage.ContentBearing() && sub.Selftext == "" {
		return &errdef.ValidationError{SubmissionID: sub.ID, Stage: string(s.stage), Field: "selftext"}
	}
	return nil
}

func (s *llmService) Enrich(ctx context.Context, sub *model.Submission, c *model.Concept) (res *model.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("enrichment panic recovered",
				zap.String("stage", string(s.stage)),
				zap.String("submission_id", sub.ID),
				zap.Any("panic", r))
			s.agg.StageError(s.stage)
			res, err = s.fallbackResult(sub, c, eris.Errorf("enrich: panic: %v", r), 0), nil
		}
	}()

	if err := s.validateInput(sub); err != nil {
		s.agg.StageError(s.stage)
		return nil, err
	}

	if dec := s.skip.ShouldRun(sub, c); !dec.ShouldRun {
		copied, copyErr := s.skip.CopyFromPrimary(ctx, sub, c)
		if copyErr != nil {
			// Dedup problems fail open to a fresh run.
			zap.L().Warn("copy from primary failed, running fresh",
				zap.String("stage", string(s.stage)),
				zap.String("submission_id", sub.ID),
				zap.Error(copyErr))
		} else if copied != nil {
			return copied, nil
		}
	}

	return s.runFresh(ctx, sub, c), nil
}

// runFresh performs the inference call with retry and falls back to a
// neutral payload when every attempt fails.
func (s *llmService) runFresh(ctx context.Context, sub *model.Submission, c *model.Concept) *model.StageResult {
	retries := 0
	cfg := s.opts.Retry
	cfg.OnRetry = func(attempt int, err error) {
		retries++
		resilience.RetryLogger(string(s.stage), "create message")(attempt, err)
	}

	payload, callErr := resilience.DoVal(ctx, cfg, func(ctx context.Context) (map[string]any, error) {
		// The breaker guards the API endpoint only; parse failures are a
		// model-output problem and must not trip it.
		var resp *claude.MessageResponse
		err := s.breaker.Call(ctx, func(ctx context.Context) error {
			r, err := s.client.CreateMessage(ctx, s.buildRequest(sub, resilience.Attempt(ctx)))
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, &errdef.ExternalServiceError{Service: string(s.stage), Err: err}
		}
		resp.Usage.LogCost(s.opts.Model, string(s.stage))
		return parsePayload(s.stage, resp.FirstText())
	})
	s.agg.StageRetries(s.stage, retries)

	if callErr != nil {
		s.agg.StageError(s.stage)
		zap.L().Warn("enrichment exhausted retries, substituting fallback",
			zap.String("stage", string(s.stage)),
			zap.String("submission_id", sub.ID),
			zap.Int("retries", retries),
			zap.Error(callErr))
		return s.fallbackResult(sub, c, callErr, retries)
	}

	now := time.Now().UTC()
	res := &model.StageResult{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		Stage:        s.stage,
		Payload:      payload,
		Score:        extractScore(s.stage, payload),
		Provenance:   model.ProvenanceFresh,
		Retries:      retries,
		CreatedAt:    now,
	}
	if c != nil {
		res.ConceptID = c.ID
	}

	s.persistFresh(ctx, res, c)
	return res
}

// persistFresh records a fresh result so later duplicates can copy it, then
// flips the concept's stage flag. Both steps are best effort: a metadata
// failure must not void a result that was already paid for.
func (s *llmService) persistFresh(ctx context.Context, res *model.StageResult, c *model.Concept) {
	conceptID := ""
	if c != nil {
		conceptID = c.ID
	}

	if conceptID != "" && s.stage.DedupEligible() && s.store != nil {
		if err := s.store.SaveResult(ctx, res); err != nil {
			zap.L().Warn("save fresh result failed",
				zap.String("stage", string(s.stage)),
				zap.String("submission_id", res.SubmissionID),
				zap.Error(err))
		}
	}

	if err := s.skip.UpdateStageStats(ctx, conceptID, res.Score); err != nil {
		zap.L().Warn("stage metadata update failed",
			zap.String("stage", string(s.stage)),
			zap.String("concept_id", conceptID),
			zap.Error(err))
	}
}

// fallbackResult builds the deterministic neutral payload for this stage.
// Fallbacks never become copy sources and never flip completion flags.
func (s *llmService) fallbackResult(sub *model.Submission, c *model.Concept, cause error, retries int) *model.StageResult {
	res := &model.StageResult{
		ID:             uuid.NewString(),
		SubmissionID:   sub.ID,
		Stage:          s.stage,
		Payload:        fallbackPayload(s.stage),
		Score:          0,
		Provenance:     model.ProvenanceFresh,
		FallbackUsed:   true,
		FallbackReason: cause.Error(),
		Retries:        retries,
		CreatedAt:      time.Now().UTC(),
	}
	if c != nil {
		res.ConceptID = c.ID
	}
	return res
}

func (s *llmService) buildRequest(sub *model.Submission, attempt int) claude.MessageRequest {
	return claude.MessageRequest{
		Model:     s.opts.Model,
		MaxTokens: s.opts.MaxTokens,
		System: []claude.SystemBlock{{
			Text:         systemPrompt(s.stage),
			CacheControl: &claude.CacheControl{TTL: "5m"},
		}},
		Messages: []claude.Message{{
			Role:    "user",
			Content: buildUserPrompt(s.stage, sub, promptBudget(s.opts.MaxPromptChars, attempt)),
		}},
	}
}

// promptBudget halves the body budget on each retry attempt, floored so the
// prompt always carries some content.
func promptBudget(maxChars, attempt int) int {
	budget := maxChars >> attempt
	if budget < 500 {
		budget = 500
	}
	return budget
}
