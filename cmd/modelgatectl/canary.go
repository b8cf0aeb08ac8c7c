package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/modelgate/internal/canary"
)

var canaryCmd = &cobra.Command{
	Use:   "canary",
	Short: "Control the canary routing policy",
}

var canaryEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Route the stored traffic fraction to the candidate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		policy, err := ctrl.CanaryEnable(ctx, operator)
		if err != nil {
			return err
		}
		return printJSON(policy)
	},
}

var canaryDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop routing traffic to the candidate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		policy, err := ctrl.CanaryDisable(ctx, operator)
		if err != nil {
			return err
		}
		return printJSON(policy)
	},
}

var canarySetFractionCmd = &cobra.Command{
	Use:   "set-fraction <fraction>",
	Short: "Store a new traffic fraction in [0,1]",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fraction, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", canary.ErrInvalidFraction, args[0])
		}
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		policy, err := ctrl.CanarySetFraction(ctx, operator, fraction)
		if err != nil {
			return err
		}
		return printJSON(policy)
	},
}

var canaryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current canary policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		policy, err := ctrl.CanaryPolicy(ctx)
		if err != nil {
			return err
		}
		return printJSON(policy)
	},
}

func init() {
	canaryCmd.AddCommand(canaryEnableCmd, canaryDisableCmd, canarySetFractionCmd, canaryShowCmd)
	rootCmd.AddCommand(canaryCmd)
}
