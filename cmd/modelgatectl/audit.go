package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained audit trail",
}

var auditEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print every recorded audit event in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := ctrl.AuditEvents(ctx)
		if err != nil {
			return err
		}
		return printJSON(events)
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the hash chain and report tampering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, cleanup, err := buildController(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := ctrl.VerifyAudit(ctx); err != nil {
			return err
		}
		fmt.Println("audit chain intact")
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditEventsCmd, auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
