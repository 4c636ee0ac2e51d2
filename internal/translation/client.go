// Package translation is a thin client for a LibreTranslate-compatible
// text translation endpoint. Engines that translate natively (the cloud
// speech provider) never touch it; the local whisper engine pairs with it.
package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	base string
	http *http.Client
}

func New(base string, timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 8
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Enabled reports whether a translation endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.base != "" }

// Translate requests a translation of text into target. An unconfigured
// client or empty text yields an empty string without error, so callers can
// degrade to untranslated output.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !c.Enabled() || strings.TrimSpace(text) == "" || target == "" {
		return "", nil
	}

	src := strings.TrimSpace(source)
	if src == "" {
		src = "auto"
	}
	payload := map[string]any{
		"q":      text,
		"source": src,
		"target": target,
		"format": "text",
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("translation http %d for target %s", resp.StatusCode, target)
	}

	var lr struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	return strings.TrimSpace(lr.TranslatedText), nil
}
