package clarify

import "errors"

var (
	// ErrAnalysisFailed is returned when a submission produced no usable
	// result or its clarification request could not be saved. The user
	// should retry; any earlier pending record is left in place.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrInvalidSubmission is returned for an empty user ID or missing media.
	ErrInvalidSubmission = errors.New("invalid submission")
)
