package types

import (
	"encoding/json"
	"time"
)

// SubmissionStatus is the wire form of an orchestrator outcome.
type SubmissionStatus string

const (
	StatusResolved           SubmissionStatus = "resolved"
	StatusNeedsClarification SubmissionStatus = "needs_clarification"
)

// SubmissionRequest is the body of POST /users/{userID}/submissions.
// Data is base64 for photo and audio; Text is used for text submissions.
type SubmissionRequest struct {
	MediaType string `json:"media_type"`
	Text      string `json:"text,omitempty"`
	Data      string `json:"data,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// SubmissionResponse reports the outcome of a submission.
type SubmissionResponse struct {
	SubmissionID       string           `json:"submission_id"`
	Status             SubmissionStatus `json:"status"`
	Clarification      bool             `json:"clarification"`
	Result             *AnalysisResult  `json:"result,omitempty"`
	UncertainItems     []string         `json:"uncertain_items,omitempty"`
	UncertaintyReasons []string         `json:"uncertainty_reasons,omitempty"`
}

// ClarificationView is the read-only projection of a pending clarification.
// Payload bytes are never returned.
type ClarificationView struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	MediaType          MediaType `json:"media_type"`
	UncertainItems     []string  `json:"uncertain_items"`
	UncertaintyReasons []string  `json:"uncertainty_reasons"`
	CreatedAt          time.Time `json:"created_at"`
	AgeSeconds         int64     `json:"age_seconds"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// MarshalJSON ensures nil slices in ClarificationView marshal as [] not null.
func (v ClarificationView) MarshalJSON() ([]byte, error) {
	if v.UncertainItems == nil {
		v.UncertainItems = []string{}
	}
	if v.UncertaintyReasons == nil {
		v.UncertaintyReasons = []string{}
	}
	type Alias ClarificationView
	return json.Marshal(Alias(v))
}

// NewClarificationView projects a pending record as seen at now.
func NewClarificationView(p *PendingClarification, now time.Time, maxAge time.Duration) ClarificationView {
	age := now.Sub(p.CreatedAt)
	if age < 0 {
		age = 0
	}
	return ClarificationView{
		ID:                 p.ID,
		UserID:             p.UserID,
		MediaType:          p.MediaType(),
		UncertainItems:     p.UncertainItems,
		UncertaintyReasons: p.UncertaintyReasons,
		CreatedAt:          p.CreatedAt,
		AgeSeconds:         int64(age / time.Second),
		ExpiresAt:          p.CreatedAt.Add(maxAge),
	}
}

// CancelResponse is returned by DELETE /users/{userID}/clarification.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// SweepResponse is returned by POST /admin/sweep.
type SweepResponse struct {
	Removed int64  `json:"removed"`
	MaxAge  string `json:"max_age"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	AnalysisModel string `json:"analysis_model"`
	PendingCount  int64  `json:"pending_count"`
}

// SnapshotURLResponse is returned by GET /admin/snapshot.
type SnapshotURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
