package client

import "time"

// MediaType identifies the kind of payload being submitted.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaAudio MediaType = "audio"
	MediaText  MediaType = "text"
)

// Status is the outcome of a submission.
type Status string

const (
	StatusResolved           Status = "resolved"
	StatusNeedsClarification Status = "needs_clarification"
)

// Submission is a single meal submission. Data holds raw bytes for photo
// and audio; the client base64-encodes it on the wire.
type Submission struct {
	MediaType MediaType
	Text      string
	Data      []byte
	Filename  string
}

// Photo builds a photo submission.
func Photo(data []byte) Submission {
	return Submission{MediaType: MediaPhoto, Data: data}
}

// Audio builds an audio submission. An empty filename lets the server pick
// its default.
func Audio(data []byte, filename string) Submission {
	return Submission{MediaType: MediaAudio, Data: data, Filename: filename}
}

// Text builds a text submission.
func Text(body string) Submission {
	return Submission{MediaType: MediaText, Text: body}
}

// Nutrition holds macro-nutrient values.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
	Sugar    float64 `json:"sugar"`
}

// FoodItem is a single identified food.
type FoodItem struct {
	Name       string    `json:"name"`
	Quantity   string    `json:"quantity,omitempty"`
	Nutrition  Nutrition `json:"nutrition"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Uncertainty lists what the analysis could not resolve.
type Uncertainty struct {
	HasUncertainty     bool     `json:"has_uncertainty"`
	UncertainItems     []string `json:"uncertain_items"`
	UncertaintyReasons []string `json:"uncertainty_reasons"`
}

// Result is the nutrition breakdown of a resolved submission.
type Result struct {
	Items         []FoodItem  `json:"items"`
	Totals        Nutrition   `json:"totals"`
	Uncertainty   Uncertainty `json:"uncertainty"`
	Transcription string      `json:"transcription,omitempty"`
	AnalyzedAt    time.Time   `json:"analyzed_at"`
}

// SubmitResult is the server's answer to a submission.
type SubmitResult struct {
	SubmissionID       string   `json:"submission_id"`
	Status             Status   `json:"status"`
	Clarification      bool     `json:"clarification"`
	Result             *Result  `json:"result,omitempty"`
	UncertainItems     []string `json:"uncertain_items,omitempty"`
	UncertaintyReasons []string `json:"uncertainty_reasons,omitempty"`
}

// NeedsClarification reports whether the user should be asked a follow-up.
func (r *SubmitResult) NeedsClarification() bool {
	return r.Status == StatusNeedsClarification
}

// Clarification is a pending clarification as reported by the server.
type Clarification struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	MediaType          MediaType `json:"media_type"`
	UncertainItems     []string  `json:"uncertain_items"`
	UncertaintyReasons []string  `json:"uncertainty_reasons"`
	CreatedAt          time.Time `json:"created_at"`
	AgeSeconds         int64     `json:"age_seconds"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// Health is the server health report.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	AnalysisModel string `json:"analysis_model"`
	PendingCount  int64  `json:"pending_count"`
}

// SweepResult reports an on-demand expiry sweep.
type SweepResult struct {
	Removed int64  `json:"removed"`
	MaxAge  string `json:"max_age"`
}
