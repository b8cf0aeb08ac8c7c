package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/modelgate/internal/release"
)

var modelType string

var promoteCmd = &cobra.Command{
	Use:   "promote <version>",
	Short: "Repoint one or all model types at a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := ctrl.Promote(ctx, operator, modelType, args[0])
		if len(report.Outcomes) > 0 {
			if perr := printJSON(report); perr != nil && err == nil {
				err = perr
			}
		}
		if err != nil {
			return err
		}
		flagPartialFailures(report)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <version|list>",
	Short: "Repoint at a previously released version, or list the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if args[0] == "list" {
			versions, err := ctrl.ListVersions(ctx)
			if err != nil {
				return err
			}
			return printJSON(versions)
		}

		report, err := ctrl.Rollback(ctx, operator, modelType, args[0])
		if len(report.Outcomes) > 0 {
			if perr := printJSON(report); perr != nil && err == nil {
				err = perr
			}
		}
		if err != nil {
			return err
		}
		flagPartialFailures(report)
		return nil
	},
}

// flagPartialFailures marks an "all" fan-out that moved some types but
// not others, so scripts notice without parsing the outcome list.
func flagPartialFailures(report release.SwapReport) {
	for _, o := range report.Outcomes {
		if o.Error != "" {
			exitCode = exitRefused
			return
		}
	}
}

func init() {
	promoteCmd.Flags().StringVar(&modelType, "type", release.AllModelTypes, "model type to repoint (or \"all\")")
	rollbackCmd.Flags().StringVar(&modelType, "type", release.AllModelTypes, "model type to repoint (or \"all\")")
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(rollbackCmd)
}
