package analysis

import (
	"context"
	"errors"

	"github.com/hyperengineering/mealclarify/internal/types"
)

var (
	// ErrEmptyResult means the provider answered but identified nothing.
	ErrEmptyResult = errors.New("analysis returned no usable result")
	// ErrUnsupportedMedia is returned for media the provider cannot handle.
	ErrUnsupportedMedia = errors.New("unsupported media")
	// ErrEmptyTranscription means an audio submission transcribed to nothing.
	ErrEmptyTranscription = errors.New("audio transcription is empty")
)

// Provider turns meal submissions into structured nutrition results.
type Provider interface {
	// Analyze analyzes a fresh submission.
	Analyze(ctx context.Context, media types.Media) (*types.AnalysisResult, error)
	// Reanalyze combines a serialized earlier result with the user's
	// clarification and returns a complete replacement result.
	Reanalyze(ctx context.Context, originalSummary string, clarification types.Media) (*types.AnalysisResult, error)
	ModelName() string
}
