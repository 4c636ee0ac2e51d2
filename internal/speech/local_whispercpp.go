//go:build whisper_cpp

package speech

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/audio"
	"github.com/lingolift/lingolift/internal/translation"
)

// localEngine runs whisper.cpp in-process for recognition and pairs it with
// the text translation client for the translated side of each result.
type localEngine struct {
	model      whisperpkg.Model
	translator *translation.Client
	threads    uint
	mu         sync.Mutex
}

func NewLocal(modelPath string, translator *translation.Client) (Engine, error) {
	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	log.Info().Str("model", modelPath).Msg("whisper model loaded")
	return &localEngine{
		model:      m,
		translator: translator,
		threads:    uint(runtime.NumCPU()),
	}, nil
}

func (e *localEngine) Recognize(ctx context.Context, samples []float32, targetLanguage string) (Result, error) {
	// Below ~100ms there is nothing whisper can do with the audio.
	if len(samples) < audio.TargetSampleRate/10 {
		return Result{NoSpeech: true}, nil
	}

	// whisper.cpp contexts are not safe for concurrent use on one model.
	e.mu.Lock()
	const maxSamples = 30 * audio.TargetSampleRate
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("create context: %w", err)
	}
	wctx.SetThreads(e.threads)
	wctx.SetSplitOnWord(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("whisper: error reading segment")
			}
			break
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}
	lang := wctx.Language()
	if lang == "" {
		lang = wctx.DetectedLanguage()
	}
	e.mu.Unlock()

	original := strings.TrimSpace(strings.Join(segments, " "))
	if original == "" {
		return Result{NoSpeech: true}, nil
	}

	translated, err := e.translator.Translate(ctx, original, lang, targetLanguage)
	if err != nil {
		// Recognition succeeded; return it untranslated rather than dropping it.
		log.Warn().Err(err).Msg("translation for local recognition failed")
	}
	return Result{OriginalText: original, TranslatedText: translated}, nil
}

func (e *localEngine) Close() error {
	if e.model != nil {
		e.model.Close()
	}
	return nil
}
