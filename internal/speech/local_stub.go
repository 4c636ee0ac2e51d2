//go:build !whisper_cpp

package speech

import (
	"context"

	"github.com/lingolift/lingolift/internal/translation"
)

// Default stub (no cgo) so the project builds without the whisper_cpp tag.
type stubEngine struct{}

func NewLocal(modelPath string, translator *translation.Client) (Engine, error) {
	return &stubEngine{}, nil
}

func (e *stubEngine) Recognize(ctx context.Context, samples []float32, targetLanguage string) (Result, error) {
	return Result{NoSpeech: true}, nil
}

func (e *stubEngine) Close() error { return nil }
