package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the concept store schema",
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

		zap.L().Info("concept store schema up to date", zap.String("driver", cfg.Concepts.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
