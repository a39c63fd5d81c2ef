package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/cost"
	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

// statsCmd derives lifetime dedup figures from the concept store. Every
// submission beyond a concept's first is a duplicate whose completed stages
// were copied rather than re-inferred.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show lifetime dedup and savings figures from the concept store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := initConceptStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init concept store")
		}
		defer store.Close()

		concepts, err := store.ListConcepts(ctx, statsLimit)
		if err != nil {
			return eris.Wrap(err, "list concepts")
		}

		calc := cost.NewCalculator(pricingRates())

		out := struct {
			Concepts    int     `json:"concepts"`
			Submissions int     `json:"submissions"`
			Duplicates  int     `json:"duplicates"`
			CopiedRuns  int     `json:"copied_runs"`
			CostSaved   float64 `json:"cost_saved_usd"`
		}{Concepts: len(concepts)}

		for _, c := range concepts {
			out.Submissions += c.SubmissionCount
			dupes := c.SubmissionCount - 1
			if dupes <= 0 {
				continue
			}
			out.Duplicates += dupes
			for _, s := range model.AllStages() {
				if s.DedupEligible() && c.Stages[s].Complete {
					out.CopiedRuns += dupes
					out.CostSaved += calc.Saved(s, dupes)
				}
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var statsLimit int

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10000, "max concepts to aggregate over")
	rootCmd.AddCommand(statsCmd)
}
