package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/mealclarify/internal/worker"
)

var sweepMaxAge time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired pending clarifications",
	Long: `Run a single expiry sweep against the configured database without starting the server.

The sweep opens the database file directly and does not take the server's
per-user locks. Stop the server first, or use POST /api/v1/admin/sweep against
a running server.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", 0,
		"Remove records older than this (default: clarification.max_pending_age)")
	addOfflineFlags(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, cfg, err := openOfflineStore()
	if err != nil {
		return err
	}
	defer s.Close()

	maxAge := time.Duration(cfg.Clarification.MaxPendingAge)
	if cmd.Flags().Changed("max-age") {
		if sweepMaxAge < 0 {
			return fmt.Errorf("--max-age must not be negative")
		}
		maxAge = sweepMaxAge
	}

	reaper := worker.NewExpiryReaper(s, maxAge, time.Duration(cfg.Clarification.ReapInterval), nil)
	removed, err := reaper.RunOnce(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"removed": removed,
			"max_age": maxAge.String(),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired clarification(s) older than %s\n", removed, maxAge)
	return nil
}
