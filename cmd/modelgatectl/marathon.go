package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/modelgate/internal/models"
)

var marathonMinimum time.Duration

var marathonCmd = &cobra.Command{
	Use:   "marathon",
	Short: "Manage the observation window",
}

var marathonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a marathon window (policy default duration unless --minimum)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := ctrl.MarathonStart(ctx, operator, marathonMinimum)
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var marathonEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Close the running marathon and print the decision report",
	Args:  cobra.NoArgs,
	RunE:  runEvaluate,
}

var marathonAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Discard the running marathon without a decision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := ctrl.MarathonAbort(ctx, operator)
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var marathonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current marathon run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := ctrl.MarathonStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run the release-cycle legs",
}

var cycleBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Enable canary routing and start the marathon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		start, err := ctrl.BeginCycle(ctx, operator)
		if err != nil {
			return err
		}
		return printJSON(start)
	},
}

var cycleEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Close the running marathon and print the decision report",
	Args:  cobra.NoArgs,
	RunE:  runEvaluate,
}

// runEvaluate backs both `marathon evaluate` and `cycle evaluate`. A
// NotReady decision exits 2 even though the evaluation itself worked.
func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := ctrl.MarathonEvaluate(ctx, operator)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if report.Tier == models.TierNotReady {
		exitCode = exitRefused
	}
	return nil
}

func init() {
	marathonStartCmd.Flags().DurationVar(&marathonMinimum, "minimum", 0, "minimum observation window, e.g. 48h (0 = policy default)")
	marathonCmd.AddCommand(marathonStartCmd, marathonEvaluateCmd, marathonAbortCmd, marathonStatusCmd)
	cycleCmd.AddCommand(cycleBeginCmd, cycleEvaluateCmd)
	rootCmd.AddCommand(marathonCmd)
	rootCmd.AddCommand(cycleCmd)
}
