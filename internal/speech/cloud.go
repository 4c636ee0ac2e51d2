package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/audio"
)

// CloudEngine calls the hosted speech-translation recognize-once endpoint:
// one WAV blob in, recognized text plus translations out.
type CloudEngine struct {
	endpoint string
	key      string
	source   string
	http     *http.Client
}

// NewCloud builds the cloud engine. Either an explicit endpoint or a region
// (from which the regional endpoint is derived) must be configured along
// with the subscription key.
func NewCloud(key, region, endpoint string, timeoutSec int) (*CloudEngine, error) {
	if key == "" || (region == "" && endpoint == "") {
		return nil, ErrNotConfigured
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.stt.speech.microsoft.com", region)
	}
	if timeoutSec <= 0 {
		timeoutSec = 15
	}
	return &CloudEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		source:   "en-US",
		http:     &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

// cloudResponse is the provider's recognize-once JSON shape. NBest carries
// the confidence of the top hypothesis.
type cloudResponse struct {
	RecognitionStatus string            `json:"RecognitionStatus"`
	DisplayText       string            `json:"DisplayText"`
	Translations      map[string]string `json:"Translations"`
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Display    string  `json:"Display"`
	} `json:"NBest"`
}

func (e *CloudEngine) Recognize(ctx context.Context, samples []float32, targetLanguage string) (Result, error) {
	if len(samples) == 0 {
		return Result{NoSpeech: true}, nil
	}
	wavBlob, err := audio.EncodeWAV(samples, audio.TargetSampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode audio: %w", err)
	}

	q := url.Values{}
	q.Set("from", e.source)
	q.Set("to", targetLanguage)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.endpoint+"/speech/translate?"+q.Encode(), bytes.NewReader(wavBlob))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", e.key)
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("speech http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr cloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Result{}, fmt.Errorf("decode speech response: %w", err)
	}

	switch cr.RecognitionStatus {
	case "Success":
		res := Result{
			OriginalText:   strings.TrimSpace(cr.DisplayText),
			TranslatedText: strings.TrimSpace(cr.Translations[targetLanguage]),
		}
		if len(cr.NBest) > 0 {
			c := cr.NBest[0].Confidence
			res.Confidence = &c
		}
		return res, nil
	case "NoMatch", "InitialSilenceTimeout":
		log.Debug().Str("status", cr.RecognitionStatus).Msg("no speech detected")
		return Result{NoSpeech: true}, nil
	default:
		return Result{}, fmt.Errorf("speech recognition failed: %s", cr.RecognitionStatus)
	}
}

func (e *CloudEngine) Close() error { return nil }
