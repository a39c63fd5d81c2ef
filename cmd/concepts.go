package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/internal/model"
)

var conceptsLimit int

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "List known concepts ordered by submission count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := initConceptStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init concept store")
		}
		defer store.Close()

		concepts, err := store.ListConcepts(ctx, conceptsLimit)
		if err != nil {
			return eris.Wrap(err, "list concepts")
		}

		type row struct {
			ID              string   `json:"id"`
			Fingerprint     string   `json:"fingerprint"`
			Primary         string   `json:"primary_submission_id"`
			SubmissionCount int      `json:"submission_count"`
			CompletedStages []string `json:"completed_stages"`
		}

		rows := make([]row, 0, len(concepts))
		for _, c := range concepts {
			completed := make([]string, 0, len(c.Stages))
			for _, s := range model.AllStages() {
				if c.Stages[s].Complete {
					completed = append(completed, string(s))
				}
			}
			rows = append(rows, row{
				ID:              c.ID,
				Fingerprint:     c.Fingerprint,
				Primary:         c.PrimarySubmissionID,
				SubmissionCount: c.SubmissionCount,
				CompletedStages: completed,
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	conceptsCmd.Flags().IntVar(&conceptsLimit, "limit", 50, "max concepts to list")
	rootCmd.AddCommand(conceptsCmd)
}
