// Package inference declares the model collaborators the engine depends on and
// provides a Hugging Face Inference API implementation of them.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnavailable marks any collaborator failure: unreachable endpoint, timeout,
// non-2xx response or an unusable payload. Callers degrade instead of aborting.
var ErrUnavailable = errors.New("inference collaborator unavailable")

// Transcription is the output of a speech-to-text model.
type Transcription struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Entity is one span produced by a named-entity recognizer.
type Entity struct {
	Group string  `json:"entity_group"`
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

// ZeroShotResult holds per-label scores, labels sorted by descending score.
type ZeroShotResult struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Score returns the score for label and whether it was present.
func (r ZeroShotResult) Score(label string) (float64, bool) {
	for i, l := range r.Labels {
		if l == label && i < len(r.Scores) {
			return r.Scores[i], true
		}
	}
	return 0, false
}

// Transcriber converts recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error)
}

// Translator translates text into English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// EntityRecognizer runs named-entity recognition.
type EntityRecognizer interface {
	RecognizeEntities(ctx context.Context, text string) ([]Entity, error)
}

// ZeroShotClassifier scores text against arbitrary candidate labels.
type ZeroShotClassifier interface {
	ClassifyZeroShot(ctx context.Context, text string, labels []string, multiLabel bool) (ZeroShotResult, error)
}

// Embedder maps texts to fixed-length vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// APIError is a non-2xx response from a model endpoint.
type APIError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model %s status %d: %s", e.Model, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrUnavailable) match API failures.
func (e *APIError) Unwrap() error { return ErrUnavailable }

// Unavailable wraps err so it matches ErrUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// GuessLanguage is used when the transcriber reports no language: pure ASCII
// text is assumed English, anything else is left undetermined ("und").
func GuessLanguage(text string) string {
	for _, r := range text {
		if r > unicode.MaxASCII {
			return "und"
		}
	}
	return "en"
}

// NeedsTranslation reports whether text in language should go through the
// translator before extraction.
func NeedsTranslation(language, text string) bool {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = GuessLanguage(text)
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang != "en" && lang != "english" {
		return true
	}
	return GuessLanguage(text) != "en"
}
