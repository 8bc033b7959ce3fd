package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/mealclarify/internal/store"
	"github.com/hyperengineering/mealclarify/internal/types"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and cancel pending clarifications",
	Long: `List, inspect, and cancel pending clarifications without running the server.

These commands open the database file directly and do not take the server's
per-user locks. Stop the server first, or use the HTTP API
(GET/DELETE /api/v1/users/{userID}/clarification) against a running server.`,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all pending clarifications",
	Args:  cobra.NoArgs,
	RunE:  runPendingList,
}

var pendingStatusCmd = &cobra.Command{
	Use:   "status <user-id>",
	Short: "Show the pending clarification for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runPendingStatus,
}

var pendingCancelCmd = &cobra.Command{
	Use:   "cancel <user-id>",
	Short: "Cancel the pending clarification for a user",
	Long: `Cancel the pending clarification for a user by deleting it from the database.

Offline only: against a running server a submission in flight for the same
user can store a new record right after the delete. Use
DELETE /api/v1/users/{userID}/clarification while the server is up.`,
	Args: cobra.ExactArgs(1),
	RunE: runPendingCancel,
}

func init() {
	addOfflineFlags(pendingCmd)

	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingStatusCmd)
	pendingCmd.AddCommand(pendingCancelCmd)
}

func runPendingList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, cfg, err := openOfflineStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	now := time.Now()
	maxAge := time.Duration(cfg.Clarification.MaxPendingAge)

	if jsonOutput {
		views := make([]types.ClarificationView, len(records))
		for i, rec := range records {
			views[i] = types.NewClarificationView(rec, now, maxAge)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"pending": views,
			"total":   len(views),
		})
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending clarifications.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "USER\tMEDIA\tAGE\tEXPIRES\tUNCERTAIN")
	for _, rec := range records {
		v := types.NewClarificationView(rec, now, maxAge)
		uncertain := strings.Join(v.UncertainItems, ", ")
		if uncertain == "" {
			uncertain = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			v.UserID,
			v.MediaType,
			formatAge(time.Duration(v.AgeSeconds)*time.Second),
			v.ExpiresAt.Local().Format("2006-01-02 15:04"),
			uncertain,
		)
	}
	w.Flush()

	return nil
}

func runPendingStatus(cmd *cobra.Command, args []string) error {
	userID := args[0]
	ctx := context.Background()

	s, cfg, err := openOfflineStore()
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no pending clarification for user %q", userID)
	}
	if err != nil {
		return err
	}

	v := types.NewClarificationView(rec, time.Now(), time.Duration(cfg.Clarification.MaxPendingAge))

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), v)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:       %s\n", v.UserID)
	fmt.Fprintf(out, "Media:      %s\n", v.MediaType)
	fmt.Fprintf(out, "Created:    %s\n", v.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Age:        %s\n", formatAge(time.Duration(v.AgeSeconds)*time.Second))
	fmt.Fprintf(out, "Expires:    %s\n", v.ExpiresAt.Local().Format(time.RFC3339))
	fmt.Fprintln(out, "Uncertain:")
	for i, item := range v.UncertainItems {
		reason := ""
		if i < len(v.UncertaintyReasons) {
			reason = " (" + v.UncertaintyReasons[i] + ")"
		}
		fmt.Fprintf(out, "  - %s%s\n", item, reason)
	}
	return nil
}

func runPendingCancel(cmd *cobra.Command, args []string) error {
	userID := args[0]
	ctx := context.Background()

	s, _, err := openOfflineStore()
	if err != nil {
		return err
	}
	defer s.Close()

	existed, err := s.HasPending(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Clear(ctx, userID); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"user_id":   userID,
			"cancelled": existed,
		})
	}

	if existed {
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled pending clarification for user %q\n", userID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "No pending clarification for user %q\n", userID)
	}
	return nil
}
