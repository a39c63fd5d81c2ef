package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/errdef"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/resilience"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/claude"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testSubmission(id string) *model.Submission {
	return &model.Submission{
		ID:        id,
		Title:     "App idea: budget tracker for freelancers",
		Selftext:  "I keep losing track of invoices and taxes. Would pay for something simple.",
		Subreddit: "SomebodyMakeThis",
		Score:     42,
	}
}

func newTestService(t *testing.T, stage model.Stage, client claude.Client) (*llmService, concept.Store, *stats.Aggregator) {
	t.Helper()
	store := concept.NewMemory()
	agg := stats.NewAggregator()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	svc := newLLMService(stage, client, store, agg, breaker, Options{Retry: fastRetry()})
	return svc, store, agg
}

func TestEnrich_ValidationError(t *testing.T) {
	client := &mockClient{}
	svc, _, agg := newTestService(t, model.StageProfiling, client)

	sub := testSubmission("sub-1")
	sub.Selftext = ""

	res, err := svc.Enrich(context.Background(), sub, nil)
	assert.Nil(t, res)
	assert.True(t, errdef.IsValidation(err))
	assert.Equal(t, 1, agg.Snapshot(nil).Errors)
	assert.Zero(t, agg.Snapshot(nil).Skipped)
	client.AssertNotCalled(t, "CreateMessage")
}

func TestEnrich_OpportunityAcceptsEmptyBody(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"opportunity_score": 7, "timing": "ripe", "rationale": "high engagement"}`), nil)

	svc, _, _ := newTestService(t, model.StageOpportunity, client)
	sub := testSubmission("sub-1")
	sub.Selftext = ""

	res, err := svc.Enrich(context.Background(), sub, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 7.0, res.Score, 1e-9)
}

func TestEnrich_FreshSuccessMarksConcept(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"revenue_model": "subscription", "monetization_score": 8, "willingness_to_pay": "high", "signals": ["would pay"]}`), nil).
		Once()

	svc, store, agg := newTestService(t, model.StageMonetization, client)

	sub := testSubmission("sub-1")
	c, err := store.GetOrCreateConcept(ctx, sub.ID, sub.ConceptText())
	require.NoError(t, err)

	res, err := svc.Enrich(ctx, sub, c)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.ProvenanceFresh, res.Provenance)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "subscription", res.Payload["revenue_model"])
	assert.InDelta(t, 8.0, res.Score, 1e-9)

	reloaded, err := store.GetConcept(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.StageComplete(model.StageMonetization))

	src, err := store.LatestPrimaryResult(ctx, c.ID, model.StageMonetization)
	require.NoError(t, err)
	require.NotNil(t, src, "fresh result becomes the copy source")

	assert.Equal(t, 1, agg.Snapshot(nil).Analyzed)
	client.AssertExpectations(t)
}

func TestEnrich_DuplicateGetsCopyWithoutInference(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"persona": "freelancer", "pain_level": 8, "demographics": "self-employed", "evidence": []}`), nil).
		Once()

	svc, store, agg := newTestService(t, model.StageProfiling, client)

	primary := testSubmission("sub-primary")
	c, err := store.GetOrCreateConcept(ctx, primary.ID, primary.ConceptText())
	require.NoError(t, err)

	_, err = svc.Enrich(ctx, primary, c)
	require.NoError(t, err)

	dup := testSubmission("sub-dup")
	c2, err := store.GetOrCreateConcept(ctx, dup.ID, dup.ConceptText())
	require.NoError(t, err)
	require.Equal(t, c.ID, c2.ID, "same title maps to same concept")

	res, err := svc.Enrich(ctx, dup, c2)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.ProvenanceCopied, res.Provenance)
	assert.Equal(t, "sub-primary", res.CopiedFrom)
	assert.Equal(t, "freelancer", res.Payload["persona"])
	assert.NotNil(t, res.CopiedAt)

	snap := agg.Snapshot(nil)
	assert.Equal(t, 1, snap.Analyzed)
	assert.Equal(t, 1, snap.Copied)
	assert.InDelta(t, 0.5, snap.DedupRate, 1e-9)
	client.AssertExpectations(t)
}

func TestEnrich_RateLimitedTwiceThenSucceeds(t *testing.T) {
	client := &mockClient{}
	transient := resilience.NewTransientError(assert.AnError, 429)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, transient).Twice()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"trust_score": 6, "red_flags": [], "rationale": "consistent history"}`), nil).
		Once()

	svc, _, agg := newTestService(t, model.StageTrust, client)

	res, err := svc.Enrich(context.Background(), testSubmission("sub-1"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.FallbackUsed, "a late success is not a fallback")
	assert.Equal(t, 2, res.Retries)
	assert.InDelta(t, 6.0, res.Score, 1e-9)

	snap := agg.Snapshot(nil)
	assert.Equal(t, 2, snap.Stages[model.StageTrust].Retries)
	client.AssertExpectations(t)
}

func TestEnrich_OpenCircuitFailsFastToFallback(t *testing.T) {
	client := &mockClient{}
	transient := resilience.NewTransientError(assert.AnError, 503)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, transient)

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	svc := newLLMService(model.StageTrust, client, concept.NewMemory(), stats.NewAggregator(), breaker, Options{Retry: fastRetry()})

	res, err := svc.Enrich(context.Background(), testSubmission("sub-1"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.FallbackUsed)

	// two transport failures open the circuit; the next attempt is rejected
	// before reaching the client and the retry loop stops
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
	assert.Equal(t, resilience.CircuitOpen, breaker.State())
}

func TestEnrich_ExhaustionSubstitutesFallback(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(assert.AnError, 503))

	svc, _, agg := newTestService(t, model.StageMarket, client)

	res, err := svc.Enrich(context.Background(), testSubmission("sub-1"), nil)
	require.NoError(t, err, "exhaustion degrades, it does not fail the batch")
	require.NotNil(t, res)

	assert.True(t, res.FallbackUsed)
	assert.NotEmpty(t, res.FallbackReason)
	assert.Equal(t, "unknown", res.Payload["market_size"])
	assert.Zero(t, res.Score)
	assert.Equal(t, 3, res.Retries)
	assert.Equal(t, 1, agg.Snapshot(nil).Errors)
}

func TestEnrich_PermanentErrorSkipsRetries(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	svc, _, _ := newTestService(t, model.StageTrust, client)

	res, err := svc.Enrich(context.Background(), testSubmission("sub-1"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.FallbackUsed)
	assert.Zero(t, res.Retries)
	client.AssertExpectations(t)
}

func TestEnrich_FallbackNeverBecomesCopySource(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(assert.AnError, 529))

	svc, store, _ := newTestService(t, model.StageMonetization, client)

	sub := testSubmission("sub-1")
	c, err := store.GetOrCreateConcept(ctx, sub.ID, sub.ConceptText())
	require.NoError(t, err)

	res, err := svc.Enrich(ctx, sub, c)
	require.NoError(t, err)
	require.True(t, res.FallbackUsed)

	reloaded, err := store.GetConcept(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.StageComplete(model.StageMonetization),
		"fallback must not flip completion flags")

	src, err := store.LatestPrimaryResult(ctx, c.ID, model.StageMonetization)
	require.NoError(t, err)
	assert.Nil(t, src)
}

func TestEnrich_ScopeReductionOnRetry(t *testing.T) {
	long := make([]byte, 8000)
	for i := range long {
		long[i] = 'a'
	}

	var lens []int
	client := &mockClient{}
	call := client.On("CreateMessage", mock.Anything, mock.Anything)
	call.Run(func(args mock.Arguments) {
		req := args.Get(1).(claude.MessageRequest)
		lens = append(lens, len(req.Messages[0].Content))
	}).Return(nil, resilience.NewTransientError(assert.AnError, 429))

	store := concept.NewMemory()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	svc := newLLMService(model.StageMarket, client, store, stats.NewAggregator(), breaker, Options{
		Retry:          fastRetry(),
		MaxPromptChars: 4000,
	})

	sub := testSubmission("sub-1")
	sub.Selftext = string(long)

	res, err := svc.Enrich(context.Background(), sub, nil)
	require.NoError(t, err)
	require.True(t, res.FallbackUsed)

	require.Len(t, lens, 4)
	for i := 1; i < len(lens); i++ {
		assert.Less(t, lens[i], lens[i-1], "later attempts must shrink the prompt")
	}
}

func TestEnrich_PanicRecovered(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("prompt template exploded") }).
		Return(nil, nil)

	svc, _, agg := newTestService(t, model.StageOpportunity, client)

	res, err := svc.Enrich(context.Background(), testSubmission("sub-1"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.FallbackUsed)
	assert.Contains(t, res.FallbackReason, "panic")
	assert.Equal(t, 1, agg.Snapshot(nil).Errors)
}

func TestEnrich_ProfilingPromptCarriesMonetizationEvidence(t *testing.T) {
	var captured string
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(claude.MessageRequest).Messages[0].Content
		}).
		Return(textResponse(`{"persona": "freelancer", "pain_level": 7}`), nil)

	svc, _, _ := newTestService(t, model.StageProfiling, client)

	sub := testSubmission("sub-1")
	sub.SetResult(&model.StageResult{
		Stage:   model.StageMonetization,
		Payload: map[string]any{"revenue_model": "subscription"},
	})

	_, err := svc.Enrich(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Contains(t, captured, "subscription")
}

func TestFactory_ServicesInDependencyOrder(t *testing.T) {
	f := NewFactory(&mockClient{}, concept.NewMemory(), stats.NewAggregator(), Options{})

	services, err := f.Services([]model.Stage{
		model.StageProfiling, model.StageMarket, model.StageMonetization,
	})
	require.NoError(t, err)
	require.Len(t, services, 3)

	pos := make(map[model.Stage]int, len(services))
	for i, s := range services {
		pos[s.Stage()] = i
	}
	assert.Less(t, pos[model.StageMonetization], pos[model.StageProfiling],
		"monetization must run before profiling")
}
