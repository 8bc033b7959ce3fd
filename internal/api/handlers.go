package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/mealclarify/internal/clarify"
	"github.com/hyperengineering/mealclarify/internal/snapshot"
	"github.com/hyperengineering/mealclarify/internal/types"
	"github.com/hyperengineering/mealclarify/internal/validation"
)

// Clarifier is the orchestrator surface the handlers drive.
type Clarifier interface {
	HandleSubmission(ctx context.Context, userID string, media types.Media) (*clarify.Outcome, error)
	Cancel(ctx context.Context, userID string) (bool, error)
	Status(ctx context.Context, userID string) (*types.PendingClarification, error)
	ModelName() string
}

// Reaper runs on-demand expiry sweeps.
type Reaper interface {
	RunOnce(ctx context.Context, maxAge time.Duration) (int64, error)
	MaxAge() time.Duration
}

// PendingCounter reports how many clarifications are pending.
type PendingCounter interface {
	Count(ctx context.Context) (int64, error)
}

// HandlerConfig holds the non-dependency settings of a Handler.
type HandlerConfig struct {
	APIKey        string
	Version       string
	Limits        validation.Limits
	MaxPendingAge time.Duration
}

// Handler implements the API handlers
type Handler struct {
	clarifier Clarifier
	reaper    Reaper
	pending   PendingCounter
	uploader  snapshot.Uploader
	apiKey    string
	version   string
	limits    validation.Limits
	maxAge    time.Duration
	now       func() time.Time
}

// NewHandler creates a Handler. A nil uploader disables snapshot URLs.
func NewHandler(c Clarifier, r Reaper, p PendingCounter, u snapshot.Uploader, cfg HandlerConfig) *Handler {
	if u == nil {
		u = &snapshot.NoopUploader{}
	}
	return &Handler{
		clarifier: c,
		reaper:    r,
		pending:   p,
		uploader:  u,
		apiKey:    cfg.APIKey,
		version:   cfg.Version,
		limits:    cfg.Limits,
		maxAge:    cfg.MaxPendingAge,
		now:       time.Now,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.pending.Count(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Clarification storage unavailable")
		return
	}

	writeJSON(w, types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		AnalysisModel: h.clarifier.ModelName(),
		PendingCount:  count,
	})
}

// maxBodyBytes bounds a submission body: base64 inflates payloads by 4/3,
// plus room for the JSON envelope and text fields.
func (h *Handler) maxBodyBytes() int64 {
	return int64(h.limits.MaxMediaBytes)*4/3 + int64(h.limits.MaxTextLength)*4 + 64<<10
}

// Submit handles POST /api/v1/users/{userID}/submissions
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var req types.SubmissionRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes())
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	media, errs := validation.DecodeSubmission(req, h.limits)
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Submission contains invalid fields", errs)
		return
	}

	submissionID := ulid.Make().String()
	outcome, err := h.clarifier.HandleSubmission(r.Context(), userID, media)
	if err != nil {
		slog.Warn("submission failed",
			"component", "api",
			"action", "submission_failed",
			"user_id", userID,
			"submission_id", submissionID,
			"media_type", string(media.Type()),
			"error", err,
		)
		MapError(w, r, err)
		return
	}

	resp := types.SubmissionResponse{
		SubmissionID:  submissionID,
		Clarification: outcome.Clarification,
	}
	switch outcome.Kind {
	case clarify.OutcomeNeedsClarification:
		resp.Status = types.StatusNeedsClarification
		resp.UncertainItems = outcome.Pending.UncertainItems
		resp.UncertaintyReasons = outcome.Pending.UncertaintyReasons
	default:
		resp.Status = types.StatusResolved
		resp.Result = outcome.Result
	}

	slog.Info("submission handled",
		"component", "api",
		"action", "submission",
		"user_id", userID,
		"submission_id", submissionID,
		"media_type", string(media.Type()),
		"status", string(resp.Status),
		"clarification", outcome.Clarification,
	)

	writeJSON(w, resp)
}

// GetClarification handles GET /api/v1/users/{userID}/clarification
func (h *Handler) GetClarification(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	rec, err := h.clarifier.Status(r.Context(), userID)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, types.NewClarificationView(rec, h.now(), h.maxAge))
}

// CancelClarification handles DELETE /api/v1/users/{userID}/clarification
func (h *Handler) CancelClarification(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	cancelled, err := h.clarifier.Cancel(r.Context(), userID)
	if err != nil {
		slog.Error("cancel failed",
			"component", "api",
			"action", "cancel_failed",
			"user_id", userID,
			"error", err,
		)
		MapError(w, r, err)
		return
	}

	writeJSON(w, types.CancelResponse{Cancelled: cancelled})
}

// Sweep handles POST /api/v1/admin/sweep?max_age=24h
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	maxAge := h.reaper.MaxAge()
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			WriteProblemWithErrors(w, r, "Invalid query parameters", []validation.ValidationError{{
				Field:   "max_age",
				Message: "must be a non-negative duration such as 24h",
			}})
			return
		}
		maxAge = d
	}

	removed, err := h.reaper.RunOnce(r.Context(), maxAge)
	if err != nil {
		slog.Error("manual sweep failed",
			"component", "api",
			"action", "sweep_failed",
			"error", err,
		)
		MapError(w, r, err)
		return
	}

	writeJSON(w, types.SweepResponse{Removed: removed, MaxAge: maxAge.String()})
}

// SnapshotURL handles GET /api/v1/admin/snapshot
func (h *Handler) SnapshotURL(w http.ResponseWriter, r *http.Request) {
	url, expiry, err := h.uploader.PresignedURL(r.Context())
	if err != nil {
		if errors.Is(err, snapshot.ErrNotConfigured) {
			WriteProblem(w, r, http.StatusNotFound, "Snapshot storage not configured")
			return
		}
		slog.Error("presign snapshot failed",
			"component", "api",
			"action", "snapshot_url_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Snapshot storage unavailable")
		return
	}

	writeJSON(w, types.SnapshotURLResponse{URL: url, ExpiresAt: expiry})
}
