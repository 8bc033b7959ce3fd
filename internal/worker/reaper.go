package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/mealclarify/internal/metrics"
)

// Sweeper defines the store operation needed by the expiry reaper.
type Sweeper interface {
	SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ExpiryReaper removes pending clarifications older than a maximum age.
type ExpiryReaper struct {
	store    Sweeper
	maxAge   time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewExpiryReaper creates a reaper that sweeps records older than maxAge
// every interval. m may be nil.
func NewExpiryReaper(store Sweeper, maxAge, interval time.Duration, m *metrics.Metrics) *ExpiryReaper {
	return &ExpiryReaper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		metrics:  m,
	}
}

// MaxAge returns the age used by scheduled sweeps.
func (r *ExpiryReaper) MaxAge() time.Duration {
	return r.maxAge
}

// RunOnce performs a single sweep with the given max age and returns the
// number of records removed.
func (r *ExpiryReaper) RunOnce(ctx context.Context, maxAge time.Duration) (int64, error) {
	start := time.Now()

	removed, err := r.store.SweepExpired(ctx, maxAge)
	r.metrics.AddReaped(removed)
	if err != nil {
		r.metrics.IncSweepFailure()
		return removed, err
	}

	if removed > 0 {
		slog.Info("expired clarifications removed",
			"component", "worker",
			"action", "sweep_complete",
			"removed", removed,
			"max_age", maxAge.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Debug("sweep found nothing to remove",
			"component", "worker",
			"action", "sweep_complete",
			"max_age", maxAge.String(),
		)
	}
	return removed, nil
}

// Run sweeps immediately, then on each interval, until ctx is cancelled.
func (r *ExpiryReaper) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "expiry-reaper",
		"interval", r.interval.String(),
		"max_age", r.maxAge.String(),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "expiry-reaper",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *ExpiryReaper) sweep(ctx context.Context) {
	if _, err := r.RunOnce(ctx, r.maxAge); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("sweep failed",
			"component", "worker",
			"action", "sweep_failed",
			"error", err,
		)
	}
}
