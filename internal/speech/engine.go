// Package speech abstracts the speech-translation providers. The default
// engine is a cloud recognize-once HTTP client; a whisper.cpp-backed local
// engine is available behind the whisper_cpp build tag.
package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/lingolift/lingolift/internal/config"
	"github.com/lingolift/lingolift/internal/translation"
)

// ErrNotConfigured is returned when the selected provider is missing its
// credentials. Handlers surface it as an explicit 500, never a crash.
var ErrNotConfigured = errors.New("speech: provider credentials not configured")

// Result is one recognition outcome over a chunk of audio.
type Result struct {
	OriginalText   string
	TranslatedText string
	Confidence     *float64
	// NoSpeech is set when the provider saw audio but no speech. It is a
	// non-error outcome; callers return empty text instead of failing.
	NoSpeech bool
}

// Engine recognizes speech from 16 kHz mono float PCM and translates it
// into the target language.
type Engine interface {
	Recognize(ctx context.Context, samples []float32, targetLanguage string) (Result, error)
	Close() error
}

// New selects an engine from config. The cloud provider is the default;
// "local" uses the in-process whisper engine paired with the text
// translation client.
func New(cfg config.Config, translator *translation.Client) (Engine, error) {
	switch cfg.SpeechProvider {
	case "", "cloud":
		return NewCloud(cfg.SpeechKey, cfg.SpeechRegion, cfg.SpeechEndpoint, cfg.SpeechTimeoutSec)
	case "local":
		return NewLocal(cfg.ModelPath, translator)
	default:
		return nil, fmt.Errorf("speech: unknown provider %q", cfg.SpeechProvider)
	}
}
