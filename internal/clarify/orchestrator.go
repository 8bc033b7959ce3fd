// Package clarify routes meal submissions through the clarification state
// machine. A user is either idle (no pending record) or awaiting a
// clarification (one pending record); the store holds the whole state.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/mealclarify/internal/analysis"
	"github.com/hyperengineering/mealclarify/internal/keylock"
	"github.com/hyperengineering/mealclarify/internal/metrics"
	"github.com/hyperengineering/mealclarify/internal/store"
	"github.com/hyperengineering/mealclarify/internal/types"
)

// OutcomeKind is the result of a successfully handled submission.
type OutcomeKind string

const (
	OutcomeResolved           OutcomeKind = "resolved"
	OutcomeNeedsClarification OutcomeKind = "needs_clarification"
)

// Outcome describes what happened to a submission.
type Outcome struct {
	Kind   OutcomeKind
	Result *types.AnalysisResult

	// Clarification is true when the submission was merged with a pending
	// record rather than analyzed fresh.
	Clarification bool

	// Pending is the record now awaiting clarification. Set only for
	// OutcomeNeedsClarification.
	Pending *types.PendingClarification
}

// Orchestrator serializes all work for a user and keeps the store in step
// with each analysis result.
type Orchestrator struct {
	store    store.ClarificationStore
	provider analysis.Provider
	locks    *keylock.Map
	metrics  *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records submission outcomes and provider latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator over the given store and provider.
func NewOrchestrator(s store.ClarificationStore, p analysis.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		provider: p,
		locks:    keylock.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleSubmission analyzes media for userID. An idle user gets a fresh
// analysis; a user awaiting clarification has media merged with the pending
// record's summary. An uncertain result is stored as the user's new pending
// record; a confident one clears any pending record.
//
// Failures return an error wrapping ErrAnalysisFailed. The store is not
// modified on provider failure, so a pending record survives for a retry.
func (o *Orchestrator) HandleSubmission(ctx context.Context, userID string, media types.Media) (*Outcome, error) {
	if userID == "" || media == nil {
		return nil, ErrInvalidSubmission
	}

	unlock := o.locks.Lock(userID)
	defer unlock()

	pending, err := o.pendingRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	path := metrics.PathFresh
	if pending != nil {
		path = metrics.PathClarification
	}

	start := time.Now()
	var result *types.AnalysisResult
	if pending != nil {
		result, err = o.provider.Reanalyze(ctx, pending.OriginalSummary, media)
	} else {
		result, err = o.provider.Analyze(ctx, media)
	}
	o.metrics.ObserveAnalysis(path, time.Since(start))
	if err == nil && result.Empty() {
		err = analysis.ErrEmptyResult
	}
	if err != nil {
		o.metrics.ObserveSubmission(path, metrics.OutcomeFailed)
		slog.Warn("analysis failed",
			"component", "clarify",
			"action", "analyze",
			"path", path,
			"user_id", userID,
			"media_type", media.Type(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	if result.Uncertainty.HasUncertainty {
		next, err := o.awaitClarification(ctx, userID, media, result)
		if err != nil {
			o.metrics.ObserveSubmission(path, metrics.OutcomeFailed)
			return nil, err
		}
		o.metrics.ObserveSubmission(path, metrics.OutcomeNeedsClarification)
		slog.Info("clarification requested",
			"component", "clarify",
			"action", "await_clarification",
			"path", path,
			"user_id", userID,
			"uncertain_items", len(next.UncertainItems),
		)
		return &Outcome{
			Kind:          OutcomeNeedsClarification,
			Result:        result,
			Clarification: pending != nil,
			Pending:       next,
		}, nil
	}

	if err := o.store.Clear(ctx, userID); err != nil {
		// The result is final either way; the reaper reclaims the record.
		slog.Error("clear after resolve failed",
			"component", "clarify",
			"action", "clear",
			"user_id", userID,
			"error", err,
		)
	}
	o.metrics.ObserveSubmission(path, metrics.OutcomeResolved)
	slog.Info("submission resolved",
		"component", "clarify",
		"action", "resolve",
		"path", path,
		"user_id", userID,
		"items", len(result.Items),
	)
	return &Outcome{
		Kind:          OutcomeResolved,
		Result:        result,
		Clarification: pending != nil,
	}, nil
}

// pendingRecord returns the user's pending record, or nil when idle. A record
// that disappears between the existence check and the read (swept in the
// meantime) counts as idle.
func (o *Orchestrator) pendingRecord(ctx context.Context, userID string) (*types.PendingClarification, error) {
	has, err := o.store.HasPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check pending: %w", err)
	}
	if !has {
		return nil, nil
	}

	rec, err := o.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("pending record vanished, analyzing fresh",
			"component", "clarify",
			"action", "fallback_fresh",
			"user_id", userID,
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	return rec, nil
}

// awaitClarification stores the uncertain result as the user's pending
// record. The submission's own media becomes the new original.
func (o *Orchestrator) awaitClarification(ctx context.Context, userID string, media types.Media, result *types.AnalysisResult) (*types.PendingClarification, error) {
	summary, err := analysis.Summarize(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	rec := &types.PendingClarification{
		UserID:             userID,
		Media:              media,
		OriginalSummary:    summary,
		UncertainItems:     result.Uncertainty.UncertainItems,
		UncertaintyReasons: result.Uncertainty.UncertaintyReasons,
	}
	if err := o.store.Store(ctx, rec); err != nil {
		slog.Error("pending clarification not saved",
			"component", "clarify",
			"action", "store",
			"user_id", userID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	return rec, nil
}

// Cancel drops the user's pending record and reports whether one existed.
// Cancelling an idle user is not an error.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidSubmission
	}

	unlock := o.locks.Lock(userID)
	defer unlock()

	has, err := o.store.HasPending(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	if !has {
		return false, nil
	}
	if err := o.store.Clear(ctx, userID); err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}

	o.metrics.IncCancellation()
	slog.Info("clarification cancelled",
		"component", "clarify",
		"action", "cancel",
		"user_id", userID,
	)
	return true, nil
}

// Status returns the user's pending record or store.ErrNotFound.
func (o *Orchestrator) Status(ctx context.Context, userID string) (*types.PendingClarification, error) {
	if userID == "" {
		return nil, ErrInvalidSubmission
	}

	unlock := o.locks.Lock(userID)
	defer unlock()

	return o.store.Get(ctx, userID)
}

// ModelName reports the analysis model in use.
func (o *Orchestrator) ModelName() string {
	return o.provider.ModelName()
}
