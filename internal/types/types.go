package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MediaType identifies the kind of payload a user submitted.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaAudio MediaType = "audio"
	MediaText  MediaType = "text"
)

// DefaultAudioFilename is used when a voice note arrives without a name.
const DefaultAudioFilename = "voice_message.ogg"

// Valid reports whether t is one of the known media types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaPhoto, MediaAudio, MediaText:
		return true
	}
	return false
}

// ParseMediaType parses a case-insensitive media type name.
func ParseMediaType(s string) (MediaType, error) {
	t := MediaType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown media type %q", s)
	}
	return t, nil
}

// Media is a submission payload: exactly one of Photo, Audio or Text.
// Callers switch on the concrete type.
type Media interface {
	Type() MediaType
	isMedia()
}

// Photo is an image of a meal.
type Photo struct {
	Data []byte
}

// Audio is a voice note or audio file describing a meal.
type Audio struct {
	Data     []byte
	Filename string
}

// Text is a written meal description.
type Text struct {
	Body string
}

func (Photo) Type() MediaType { return MediaPhoto }
func (Audio) Type() MediaType { return MediaAudio }
func (Text) Type() MediaType  { return MediaText }

func (Photo) isMedia() {}
func (Audio) isMedia() {}
func (Text) isMedia()  {}

// PendingClarification is the persisted record of an uncertain analysis
// waiting for a follow-up from the same user. At most one exists per user.
type PendingClarification struct {
	// ID is storage metadata assigned on every Store call.
	ID string

	UserID string

	// Media is the submission that produced the uncertain analysis.
	Media Media

	// OriginalSummary is the serialized uncertain analysis handed back to
	// the provider when the user clarifies.
	OriginalSummary string

	UncertainItems     []string
	UncertaintyReasons []string
	CreatedAt          time.Time
}

// MediaType returns the type of the stored media, or "" if none is set.
func (p *PendingClarification) MediaType() MediaType {
	if p.Media == nil {
		return ""
	}
	return p.Media.Type()
}

// Nutrition holds macro-nutrient values for an item or a whole meal.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
	Sugar    float64 `json:"sugar"`
}

// FoodItem is a single food identified by the analysis provider.
type FoodItem struct {
	Name       string    `json:"name"`
	Quantity   string    `json:"quantity,omitempty"`
	Nutrition  Nutrition `json:"nutrition"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Uncertainty is the provider's report on what it could not resolve.
type Uncertainty struct {
	HasUncertainty     bool     `json:"has_uncertainty"`
	UncertainItems     []string `json:"uncertain_items"`
	UncertaintyReasons []string `json:"uncertainty_reasons"`
}

// MarshalJSON ensures nil slices in Uncertainty marshal as [] not null.
func (u Uncertainty) MarshalJSON() ([]byte, error) {
	if u.UncertainItems == nil {
		u.UncertainItems = []string{}
	}
	if u.UncertaintyReasons == nil {
		u.UncertaintyReasons = []string{}
	}
	type Alias Uncertainty
	return json.Marshal(Alias(u))
}

// AnalysisResult is the structured nutrition data for one submission.
type AnalysisResult struct {
	Items       []FoodItem  `json:"items"`
	Totals      Nutrition   `json:"totals"`
	Uncertainty Uncertainty `json:"uncertainty"`

	// Transcription is set for audio submissions.
	Transcription string    `json:"transcription,omitempty"`
	AnalyzedAt    time.Time `json:"analyzed_at"`
}

// Empty reports whether the result carries nothing usable: no food items and
// no uncertainty to ask the user about.
func (r *AnalysisResult) Empty() bool {
	return r == nil || (len(r.Items) == 0 && !r.Uncertainty.HasUncertainty)
}

// MarshalJSON ensures nil slices in AnalysisResult marshal as [] not null.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	if r.Items == nil {
		r.Items = []FoodItem{}
	}
	type Alias AnalysisResult
	return json.Marshal(Alias(r))
}
