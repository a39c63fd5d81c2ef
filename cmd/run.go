package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/cost"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/enrich"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/pipeline"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/stats"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/claude"
)

var (
	runLimit   int
	runBatches int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion and enrichment pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := initConceptStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init concept store")
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate concept store")
		}

		source, closeSource, err := initSource(ctx)
		if err != nil {
			return eris.Wrap(err, "init source")
		}
		defer closeSource()

		snk, err := initSink(ctx)
		if err != nil {
			return eris.Wrap(err, "init sink")
		}
		defer snk.Close()

		stages, err := parseStages(cfg.Pipeline.Stages)
		if err != nil {
			return err
		}

		agg := stats.NewAggregator()
		client := claude.NewClient(cfg.Claude.Key, time.Duration(cfg.Claude.TimeoutSecs)*time.Second)
		factory := enrich.NewFactory(client, store, agg, enrich.Options{
			Model:          cfg.Claude.Model,
			MaxTokens:      cfg.Claude.MaxTokens,
			MaxPromptChars: cfg.Claude.MaxPromptChars,
			Retry:          retryConfig(),
		})
		services, err := factory.Services(stages)
		if err != nil {
			return eris.Wrap(err, "build stage services")
		}

		calc := cost.NewCalculator(pricingRates())
		o := pipeline.NewOrchestrator(cfg, source, store, services, snk, agg, calc)

		var last *pipeline.BatchResult
		for i := 0; i < runBatches; i++ {
			res, err := o.RunBatch(ctx, runLimit)
			if err != nil {
				return eris.Wrapf(err, "batch %d", i+1)
			}
			last = res
			if res.Fetched == 0 {
				zap.L().Info("source exhausted", zap.Int("batches_run", i+1))
				break
			}
		}

		if last == nil {
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(last.Stats)
	},
}

func parseStages(names []string) ([]model.Stage, error) {
	if len(names) == 0 {
		return model.AllStages(), nil
	}
	stages := make([]model.Stage, 0, len(names))
	for _, name := range names {
		s, err := model.ParseStage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// pricingRates overlays configured unit costs on the defaults.
func pricingRates() cost.Rates {
	rates := cost.DefaultRates()
	for name, usd := range cfg.Pricing.StageUnitCost {
		if s, err := model.ParseStage(name); err == nil {
			rates.StageUnitCost[s] = usd
		}
	}
	return rates
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 100, "max submissions per batch")
	runCmd.Flags().IntVar(&runBatches, "batches", 1, "number of batches to run")
	rootCmd.AddCommand(runCmd)
}
