// Package live coordinates an in-progress recording: it accumulates final
// recognition results per session, flushes them to the store as segments,
// and fans events out to subscribers.
package live

import (
	"time"

	"github.com/lingolift/lingolift/internal/store"
)

const (
	// EventPartial carries an interim recognition hypothesis. Superseded by
	// the next partial or final event; never persisted.
	EventPartial = "partial"
	// EventAccumulated carries the running paragraph after a final result
	// was appended.
	EventAccumulated = "accumulated"
	// EventSegment carries a freshly persisted transcription segment.
	EventSegment = "segment"
	// EventError carries a provider or persistence failure.
	EventError = "error"
	// EventStopped marks the end of a recording.
	EventStopped = "stopped"
)

// Event is what flows to SSE subscribers and the segment notifier.
type Event struct {
	Type           string         `json:"type"`
	SessionID      string         `json:"sessionId"`
	OriginalText   string         `json:"originalText,omitempty"`
	TranslatedText string         `json:"translatedText,omitempty"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	LastUpdated    *time.Time     `json:"lastUpdated,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Segment        *store.Segment `json:"segment,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}
