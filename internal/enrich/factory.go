package enrich

import (
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/concept"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/resilience"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/claude"
)

// Factory builds the configured stage services with dedup wired in.
type Factory struct {
	client  claude.Client
	store   concept.Store
	agg     *stats.Aggregator
	breaker *resilience.CircuitBreaker
	opts    Options
}

// NewFactory creates a Factory. All services share the client, concept store,
// aggregator, and one circuit breaker for the inference endpoint, so an
// outage detected by one stage stops the others from burning retries too.
func NewFactory(client claude.Client, store concept.Store, agg *stats.Aggregator, opts Options) *Factory {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("inference circuit state change",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return &Factory{client: client, store: store, agg: agg, breaker: breaker, opts: opts}
}

// Services returns one service per requested stage, ordered so every stage
// runs after the stages whose output it consumes.
func (f *Factory) Services(stages []model.Stage) ([]Service, error) {
	ordered, err := model.OrderStages(stages)
	if err != nil {
		return nil, err
	}

	out := make([]Service, 0, len(ordered))
	for _, stage := range ordered {
		out = append(out, newLLMService(stage, f.client, f.store, f.agg, f.breaker, f.opts))
	}
	return out, nil
}
