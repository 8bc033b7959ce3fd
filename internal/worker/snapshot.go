package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/mealclarify/internal/snapshot"
	"github.com/hyperengineering/mealclarify/internal/store"
)

// SnapshotStore defines the store operation needed by the snapshot worker.
type SnapshotStore interface {
	GenerateSnapshot(ctx context.Context) (string, error)
}

// SnapshotWorker periodically snapshots the pending store and uploads the
// snapshot through the configured uploader.
type SnapshotWorker struct {
	store    SnapshotStore
	uploader snapshot.Uploader
	interval time.Duration
}

// NewSnapshotWorker creates a worker with the given store, uploader and
// interval. A nil uploader keeps snapshots local.
func NewSnapshotWorker(store SnapshotStore, uploader snapshot.Uploader, interval time.Duration) *SnapshotWorker {
	if uploader == nil {
		uploader = &snapshot.NoopUploader{}
	}
	return &SnapshotWorker{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run generates a snapshot immediately on start, then on each interval.
// An in-progress snapshot completes before Run returns.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SnapshotWorker) runOnce(ctx context.Context) {
	start := time.Now()

	path, err := w.store.GenerateSnapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		level := slog.LevelWarn
		if errors.Is(err, store.ErrSnapshotUnavailable) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "snapshot generation failed",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	if err := w.uploader.Upload(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"error", err,
		)
		return
	}

	slog.Info("snapshot completed",
		"component", "worker",
		"action", "snapshot_complete",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
