package validation

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/mealclarify/internal/types"
)

// MaxUserIDLength is the maximum length of a user ID in characters.
const MaxUserIDLength = 128

// MaxFilenameLength is the maximum length of an audio filename in characters.
const MaxFilenameLength = 255

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateUserID checks a user ID taken from the request path.
func ValidateUserID(userID string) []ValidationError {
	var c Collector
	if err := ValidateRequired("user_id", userID); err != nil {
		c.Add(err)
		return c.Errors()
	}
	c.Add(ValidateUTF8("user_id", userID))
	c.Add(ValidateNoNullBytes("user_id", userID))
	c.Add(ValidateMaxLength("user_id", userID, MaxUserIDLength))
	return c.Errors()
}

// Limits bounds the size of submission payloads.
type Limits struct {
	MaxMediaBytes int
	MaxTextLength int
}

var mediaTypes = []string{string(types.MediaPhoto), string(types.MediaAudio), string(types.MediaText)}

// DecodeSubmission validates a submission request and decodes it into media.
// All field errors are collected; media is nil whenever errors are returned.
func DecodeSubmission(req types.SubmissionRequest, lim Limits) (types.Media, []ValidationError) {
	var c Collector

	if err := ValidateEnum("media_type", req.MediaType, mediaTypes); err != nil {
		c.Add(err)
		return nil, c.Errors()
	}

	switch types.MediaType(req.MediaType) {
	case types.MediaText:
		if err := ValidateRequired("text", req.Text); err != nil {
			c.Add(err)
			return nil, c.Errors()
		}
		c.Add(ValidateUTF8("text", req.Text))
		c.Add(ValidateNoNullBytes("text", req.Text))
		c.Add(ValidateMaxLength("text", req.Text, lim.MaxTextLength))
		if c.HasErrors() {
			return nil, c.Errors()
		}
		return types.Text{Body: strings.TrimSpace(req.Text)}, nil

	case types.MediaPhoto:
		data := decodeData(&c, req.Data, lim.MaxMediaBytes)
		if c.HasErrors() {
			return nil, c.Errors()
		}
		return types.Photo{Data: data}, nil

	default:
		data := decodeData(&c, req.Data, lim.MaxMediaBytes)
		if req.Filename != "" {
			c.Add(ValidateUTF8("filename", req.Filename))
			c.Add(ValidateNoNullBytes("filename", req.Filename))
			c.Add(ValidateMaxLength("filename", req.Filename, MaxFilenameLength))
		}
		if c.HasErrors() {
			return nil, c.Errors()
		}
		name := req.Filename
		if name == "" {
			name = types.DefaultAudioFilename
		}
		return types.Audio{Data: data, Filename: name}, nil
	}
}

func decodeData(c *Collector, encoded string, maxBytes int) []byte {
	if err := ValidateRequired("data", encoded); err != nil {
		c.Add(err)
		return nil
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+2 {
		c.Add(&ValidationError{
			Field:   "data",
			Message: fmt.Sprintf("exceeds maximum size of %d bytes", maxBytes),
		})
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.Add(&ValidationError{Field: "data", Message: "must be valid base64"})
		return nil
	}
	if maxBytes > 0 && len(data) > maxBytes {
		c.Add(&ValidationError{
			Field:   "data",
			Message: fmt.Sprintf("exceeds maximum size of %d bytes", maxBytes),
		})
		return nil
	}
	if len(data) == 0 {
		c.Add(&ValidationError{Field: "data", Message: "is required"})
		return nil
	}
	return data
}
