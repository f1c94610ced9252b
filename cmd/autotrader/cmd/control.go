package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show trading state, pending orders and the last cycle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		st, err := newClient().Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one trading cycle now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err := newClient().RunCycle(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var stopYes bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Emergency stop: halt trading and close every position",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !stopYes {
			return fmt.Errorf("emergency stop closes all positions; rerun with --yes to confirm")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err := newClient().EmergencyStop(ctx)
		if res != nil {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		}
		return err
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the daily loss circuit breaker to ACTIVE",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		st, err := newClient().ResetRisk(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Show today's performance snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		snap, err := newClient().Performance(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopYes, "yes", false, "confirm the emergency stop")
	rootCmd.AddCommand(statusCmd, cycleCmd, stopCmd, resetCmd, perfCmd)
}
