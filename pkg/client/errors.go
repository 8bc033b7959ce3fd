package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoPending is returned when a user has no pending clarification.
	ErrNoPending = errors.New("no pending clarification")

	// ErrAnalysisFailed is returned when the server could not analyze a
	// submission. The user may retry; any pending clarification is kept.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrUnauthorized is returned when the API key is rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Problem is an RFC 7807 error response returned by the server.
type Problem struct {
	Type   string       `json:"type"`
	Title  string       `json:"title"`
	Status int          `json:"status"`
	Detail string       `json:"detail"`
	Errors []FieldError `json:"errors,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
	}
	return fmt.Sprintf("%d %s", p.Status, p.Title)
}

// Unwrap maps well-known statuses onto sentinel errors so callers can use
// errors.Is without inspecting status codes.
func (p *Problem) Unwrap() error {
	switch p.Status {
	case http.StatusNotFound:
		return ErrNoPending
	case http.StatusBadGateway:
		return ErrAnalysisFailed
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}
