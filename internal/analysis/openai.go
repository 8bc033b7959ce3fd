package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/mealclarify/internal/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface check
var _ Provider = (*OpenAI)(nil)

const maxCompletionTokens = 1024

// ChatService defines the interface for making chat completion calls.
// This abstraction enables testing without calling the real OpenAI API.
type ChatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// TranscriptionService defines the interface for audio transcription calls.
type TranscriptionService interface {
	New(ctx context.Context, params openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// Config holds the OpenAI provider settings.
type Config struct {
	APIKey string
	// BaseURL points at an OpenAI-compatible endpoint. Empty uses the
	// public API.
	BaseURL            string
	Model              string
	TranscriptionModel string
	// Language pins the response language (and the transcription language
	// hint). Empty lets the model choose.
	Language string
	// Timeout bounds one Analyze or Reanalyze call. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration
}

// OpenAI implements Provider with a vision-capable chat model and a speech
// transcription model.
type OpenAI struct {
	chat               ChatService
	transcriptions     TranscriptionService
	model              openai.ChatModel
	transcriptionModel openai.AudioModel
	language           string
	timeout            time.Duration
	now                func() time.Time
}

// NewOpenAI creates a new OpenAI analysis provider
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return newOpenAI(client.Chat.Completions, client.Audio.Transcriptions, cfg)
}

func newOpenAI(chat ChatService, transcriptions TranscriptionService, cfg Config) *OpenAI {
	transcriptionModel := openai.AudioModel(cfg.TranscriptionModel)
	if transcriptionModel == "" {
		transcriptionModel = openai.AudioModelWhisper1
	}
	return &OpenAI{
		chat:               chat,
		transcriptions:     transcriptions,
		model:              openai.ChatModel(cfg.Model),
		transcriptionModel: transcriptionModel,
		language:           cfg.Language,
		timeout:            cfg.Timeout,
		now:                time.Now,
	}
}

// ModelName returns the chat model name
func (o *OpenAI) ModelName() string {
	return string(o.model)
}

// Analyze analyzes a fresh photo, voice note or text description.
func (o *OpenAI) Analyze(ctx context.Context, media types.Media) (*types.AnalysisResult, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	sub, err := o.prepare(ctx, media)
	if err != nil {
		return nil, err
	}

	var user openai.ChatCompletionMessageParamUnion
	switch {
	case sub.imageURL != "":
		user = openai.UserMessageParts(
			openai.TextPart("Analyze the meal in this photo."),
			openai.ImagePart(sub.imageURL),
		)
	case sub.transcription != "":
		user = openai.UserMessage(describeTranscriptPrompt(sub.transcription))
	default:
		user = openai.UserMessage(describeTextPrompt(sub.text))
	}

	result, err := o.complete(ctx, analyzePrompt(o.language), user)
	if err != nil {
		return nil, err
	}
	result.Transcription = sub.transcription
	return result, nil
}

// Reanalyze merges the user's clarification into an earlier result.
func (o *OpenAI) Reanalyze(ctx context.Context, originalSummary string, clarification types.Media) (*types.AnalysisResult, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	sub, err := o.prepare(ctx, clarification)
	if err != nil {
		return nil, err
	}

	var user openai.ChatCompletionMessageParamUnion
	switch {
	case sub.imageURL != "":
		user = openai.UserMessageParts(
			openai.TextPart(clarificationPrompt(originalSummary, "The user sent the attached photo.")),
			openai.ImagePart(sub.imageURL),
		)
	case sub.transcription != "":
		user = openai.UserMessage(clarificationPrompt(originalSummary, "Voice note: "+sub.transcription))
	default:
		user = openai.UserMessage(clarificationPrompt(originalSummary, sub.text))
	}

	result, err := o.complete(ctx, reanalyzePrompt(o.language), user)
	if err != nil {
		return nil, err
	}
	result.Transcription = sub.transcription
	return result, nil
}

func (o *OpenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// submission is a media payload reduced to what the chat model reads.
type submission struct {
	text          string
	imageURL      string
	transcription string
}

func (o *OpenAI) prepare(ctx context.Context, media types.Media) (submission, error) {
	switch m := media.(type) {
	case types.Text:
		body := strings.TrimSpace(m.Body)
		if body == "" {
			return submission{}, fmt.Errorf("%w: empty text", ErrUnsupportedMedia)
		}
		return submission{text: body}, nil
	case types.Photo:
		if len(m.Data) == 0 {
			return submission{}, fmt.Errorf("%w: empty photo", ErrUnsupportedMedia)
		}
		return submission{imageURL: imageDataURL(m.Data)}, nil
	case types.Audio:
		transcript, err := o.transcribe(ctx, m)
		if err != nil {
			return submission{}, err
		}
		return submission{transcription: transcript}, nil
	default:
		return submission{}, fmt.Errorf("%w: %T", ErrUnsupportedMedia, media)
	}
}

func (o *OpenAI) transcribe(ctx context.Context, audio types.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrUnsupportedMedia)
	}
	filename := audio.Filename
	if filename == "" {
		filename = types.DefaultAudioFilename
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.FileParam(bytes.NewReader(audio.Data), filename, audioContentType(filename)),
		Model: openai.F(o.transcriptionModel),
	}
	if o.language != "" {
		params.Language = openai.F(o.language)
	}

	resp, err := o.transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("audio transcription failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscription
	}
	return text, nil
}

func (o *OpenAI) complete(ctx context.Context, system string, user openai.ChatCompletionMessageParamUnion) (*types.AnalysisResult, error) {
	resp, err := o.chat.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			user,
		}),
		Model: openai.F(o.model),
		ResponseFormat: openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			},
		),
		MaxCompletionTokens: openai.F(int64(maxCompletionTokens)),
	})
	if err != nil {
		return nil, fmt.Errorf("nutrition analysis failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("nutrition analysis failed: no choices returned")
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result.AnalyzedAt = o.now().UTC()
	return result, nil
}

// parseResult decodes the model's JSON answer, tolerating a surrounding
// markdown code fence, and normalizes it.
func parseResult(content string) (*types.AnalysisResult, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, ErrEmptyResult
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("parse nutrition response: %w", err)
	}

	// Listing uncertain items implies uncertainty even if the flag was left false.
	if len(result.Uncertainty.UncertainItems) > 0 {
		result.Uncertainty.HasUncertainty = true
	}
	if result.Totals == (types.Nutrition{}) {
		for _, item := range result.Items {
			result.Totals = addNutrition(result.Totals, item.Nutrition)
		}
	}

	if result.Empty() {
		return nil, ErrEmptyResult
	}
	return &result, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func addNutrition(a, b types.Nutrition) types.Nutrition {
	return types.Nutrition{
		Calories: a.Calories + b.Calories,
		Protein:  a.Protein + b.Protein,
		Carbs:    a.Carbs + b.Carbs,
		Fat:      a.Fat + b.Fat,
		Fiber:    a.Fiber + b.Fiber,
		Sugar:    a.Sugar + b.Sugar,
	}
}

func imageDataURL(data []byte) string {
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func audioContentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	default:
		return "audio/ogg"
	}
}
