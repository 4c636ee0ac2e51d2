// Package voice is a thin client for the hosted text-to-speech API used to
// read saved transcriptions aloud.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("voice: api key not configured")

const defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

type Client struct {
	base    string
	key     string
	voiceID string
	http    *http.Client
}

func New(base, key, voiceID string) *Client {
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		key:     key,
		voiceID: voiceID,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether the synthesis provider is configured.
func (c *Client) Enabled() bool { return c != nil && c.key != "" }

// Synthesize renders text as MPEG audio. An empty voiceID uses the
// configured default voice.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("voice: empty text")
	}
	if voiceID == "" {
		voiceID = c.voiceID
	}

	body, _ := json.Marshal(map[string]any{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/text-to-speech/%s", c.base, voiceID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.key)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("voice http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return io.ReadAll(resp.Body)
}
