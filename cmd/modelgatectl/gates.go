package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/modelgate/internal/models"
)

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Evaluate the release gates and print the snapshot",
	Long: `Evaluates all five release gates against the current deployment and prints
the snapshot with its readiness tier. While a marathon is running the gates
look back over the run's window instead of an instant check.

Exits 2 when the tier is not_ready so scripts can stop a pipeline on it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		snap, err := ctrl.Gates(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(snap); err != nil {
			return err
		}
		if snap.Tier == models.TierNotReady {
			exitCode = exitRefused
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatesCmd)
}
