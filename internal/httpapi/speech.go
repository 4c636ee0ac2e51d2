package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/audio"
	"github.com/lingolift/lingolift/internal/speech"
	"github.com/lingolift/lingolift/internal/store"
	"github.com/lingolift/lingolift/internal/summarize"
	"github.com/lingolift/lingolift/internal/voice"
)

type translateSpeechRequest struct {
	AudioData      string `json:"audioData"`
	SessionID      string `json:"sessionId"`
	TargetLanguage string `json:"targetLanguage"`
	MimeType       string `json:"mimeType"`
	SampleRate     int    `json:"sampleRate"`
	// SequenceNumber is accepted for backwards compatibility but ignored:
	// the store assigns sequence numbers.
	SequenceNumber *int `json:"sequenceNumber"`
}

func (a *API) handleTranslateSpeech(w http.ResponseWriter, r *http.Request, user store.User) {
	var req translateSpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AudioData == "" || req.SessionID == "" || req.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, "audioData, sessionId and targetLanguage are required")
		return
	}
	session, err := a.Store.SessionForUser(r.Context(), req.SessionID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if a.Engine == nil {
		writeError(w, http.StatusInternalServerError, "speech provider not configured")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audioData is not valid base64")
		return
	}
	samples, rate, err := decodeAudio(raw, req.MimeType, req.SampleRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not decode audio")
		return
	}
	samples = audio.Resample(samples, rate, audio.TargetSampleRate)

	result, err := a.Engine.Recognize(r.Context(), samples, req.TargetLanguage)
	if err != nil {
		if errors.Is(err, speech.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "speech provider not configured")
			return
		}
		log.Error().Err(err).Str("session", session.ID).Msg("recognition failed")
		writeError(w, http.StatusInternalServerError, "speech recognition failed")
		return
	}
	if result.NoSpeech || strings.TrimSpace(result.OriginalText) == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"originalText":   "",
			"translatedText": "",
		})
		return
	}

	segment, err := a.Store.InsertSegment(r.Context(), session.ID, result.OriginalText, result.TranslatedText, result.Confidence)
	if err != nil {
		log.Error().Err(err).Str("session", session.ID).Msg("segment insert failed")
		writeError(w, http.StatusInternalServerError, "could not persist segment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"originalText":   segment.OriginalText,
		"translatedText": segment.TranslatedText,
		"confidence":     segment.ConfidenceScore,
		"sequenceNumber": segment.SequenceNumber,
	})
}

func decodeAudio(raw []byte, mimeType string, sampleRate int) ([]float32, int, error) {
	switch {
	case strings.Contains(mimeType, "pcm"), strings.Contains(mimeType, "L16"):
		if sampleRate <= 0 {
			sampleRate = audio.TargetSampleRate
		}
		return audio.DecodePCM16(raw, sampleRate)
	default:
		return audio.DecodeWAV(raw)
	}
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request, user store.User) {
	var req struct {
		Messages []summarize.Message `json:"messages"`
		Level    string              `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	if !a.Summarizer.Enabled() {
		writeError(w, http.StatusInternalServerError, "summary provider not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := a.Summarizer.Stream(r.Context(), req.Level, req.Messages, func(text string) error {
		payload, err := json.Marshal(map[string]string{"text": text})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already sent; surface the failure in-stream.
		log.Error().Err(err).Msg("summary stream failed")
		fmt.Fprintf(w, "data: {\"error\":\"summary stream failed\"}\n\n")
		flusher.Flush()
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (a *API) handleVoice(w http.ResponseWriter, r *http.Request, user store.User) {
	var req struct {
		Text    string `json:"text"`
		VoiceID string `json:"voiceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	audioBytes, err := a.Voice.Synthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		if errors.Is(err, voice.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "voice provider not configured")
			return
		}
		log.Error().Err(err).Msg("voice synthesis failed")
		writeError(w, http.StatusInternalServerError, "voice synthesis failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audioBytes)
}
