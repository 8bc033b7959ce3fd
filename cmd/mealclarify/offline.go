package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/mealclarify/internal/config"
	"github.com/hyperengineering/mealclarify/internal/store"
)

var (
	dbPathOverride string
	jsonOutput     bool
)

// addOfflineFlags registers the flags shared by commands that open the
// database directly.
func addOfflineFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and MEALCLARIFY_DB_PATH)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
}

// openOfflineStore loads local configuration and opens the store it names,
// honoring the --db override.
func openOfflineStore() (*store.SQLiteStore, *config.Config, error) {
	cfg, err := config.LoadLocal()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	path := cfg.Database.Path
	if dbPathOverride != "" {
		path = dbPathOverride
	}

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatAge renders a duration in whole minutes, hours or days.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	default:
		return fmt.Sprintf("%dd%02dh", int(d/(24*time.Hour)), int(d%(24*time.Hour)/time.Hour))
	}
}
