// Package summarize streams chat completions from the hosted language
// model used for AI summaries of transcribed lectures.
package summarize

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("summarize: api key not configured")

// Message is one prior chat turn. Role is "user" or "model".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var levelPrompts = map[string]string{
	"beginner":     "You are a helpful assistant that explains complex topics in simple, easy-to-understand language. Use analogies and examples to make concepts clear for beginners.",
	"intermediate": "You are a knowledgeable assistant that provides detailed explanations suitable for someone with some background knowledge. Include technical details and examples.",
	"advanced":     "You are an expert assistant that provides in-depth, technical explanations. Use precise terminology and include advanced concepts and methodologies.",
}

// SystemPrompt maps a difficulty level to its system prompt, defaulting to
// intermediate for unknown levels.
func SystemPrompt(level string) string {
	if p, ok := levelPrompts[level]; ok {
		return p
	}
	return levelPrompts["intermediate"]
}

type Client struct {
	base  string
	key   string
	model string
	http  *http.Client
}

func New(base, key, model string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		key:   key,
		model: model,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Enabled reports whether the summary provider is configured.
func (c *Client) Enabled() bool { return c != nil && c.key != "" }

// Provider wire shapes.
type generateRequest struct {
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateChunk struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Stream requests a streaming completion and invokes onDelta for each text
// fragment as it arrives. A non-nil error from onDelta aborts the stream.
func (c *Client) Stream(ctx context.Context, level string, messages []Message, onDelta func(text string) error) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: SystemPrompt(level)}}},
	}
	for _, m := range messages {
		role := m.Role
		if role != "model" {
			role = "user"
		}
		req.Contents = append(req.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	body, _ := json.Marshal(req)

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.base, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("summary request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("summary http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("decode summary chunk: %w", err)
		}
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text == "" {
					continue
				}
				if err := onDelta(p.Text); err != nil {
					return err
				}
			}
		}
	}
	return scanner.Err()
}
