package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/stmkit/workload"
)

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the lock-step counter check",
		Long: `The check command has every worker decrement one shared counter in
lock step. The counter must never grow between two observations of the
same worker and must end at zero.

Example:
  stmbench check
  stmbench check --workers 32`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd)
		},
	}
	addBankFlags(cmd)
	return cmd
}

func runCheck(cmd *cobra.Command) error {
	cfg, err := bankConfig()
	if err != nil {
		return err
	}
	rep, err := workload.CheckBank(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	return printReport(rep)
}
