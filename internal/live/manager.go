package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/store"
)

var (
	// ErrBusy is returned when a session already has an active recording.
	ErrBusy = errors.New("live: recording already in progress")
	// ErrNotRecording is returned for operations on a stopped recording.
	ErrNotRecording = errors.New("live: not recording")
)

// SegmentNotifier is told about every persisted segment. The AMQP publisher
// implements it; a nil notifier disables fan-out.
type SegmentNotifier interface {
	SegmentPersisted(ctx context.Context, seg store.Segment)
}

// FlushPolicy bounds in-memory accumulation for long recordings. Zero
// values disable the corresponding trigger.
type FlushPolicy struct {
	MaxChars int
	MaxAge   time.Duration
}

func (p FlushPolicy) due(acc *Accumulator, now time.Time) bool {
	if p.MaxChars > 0 && acc.Len() >= p.MaxChars {
		return true
	}
	if p.MaxAge > 0 && acc.Age(now) >= p.MaxAge {
		return true
	}
	return false
}

// Manager owns at most one Recording per session.
type Manager struct {
	store    *store.Store
	broker   *Broker
	policy   FlushPolicy
	notifier SegmentNotifier

	// Now is the clock; tests override it.
	Now func() time.Time

	mu         sync.Mutex
	recordings map[string]*Recording
}

func NewManager(st *store.Store, broker *Broker, policy FlushPolicy, notifier SegmentNotifier) *Manager {
	return &Manager{
		store:      st,
		broker:     broker,
		policy:     policy,
		notifier:   notifier,
		Now:        time.Now,
		recordings: make(map[string]*Recording),
	}
}

// Broker exposes the event broker for subscribers.
func (m *Manager) Broker() *Broker { return m.broker }

// Start begins a recording for a session. A session records on at most one
// connection at a time; a second start is rejected, not queued.
func (m *Manager) Start(sessionID, targetLanguage string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recordings[sessionID]; ok {
		return nil, ErrBusy
	}
	r := &Recording{
		m:              m,
		SessionID:      sessionID,
		TargetLanguage: targetLanguage,
	}
	m.recordings[sessionID] = r
	log.Info().Str("session", sessionID).Str("target", targetLanguage).Msg("recording started")
	return r, nil
}

// FlushSession flushes the live accumulator of a session, if one exists.
// Ending a session goes through here so no accumulated text is stranded.
func (m *Manager) FlushSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	r := m.recordings[sessionID]
	m.mu.Unlock()
	if r == nil {
		return nil
	}
	_, err := r.Flush(ctx)
	return err
}

func (m *Manager) release(sessionID string, r *Recording) {
	m.mu.Lock()
	if m.recordings[sessionID] == r {
		delete(m.recordings, sessionID)
	}
	m.mu.Unlock()
}

// Recording is the per-session live state: the accumulator plus the state
// flags guarding stop and flush. All methods are safe for concurrent use.
type Recording struct {
	m              *Manager
	SessionID      string
	TargetLanguage string

	mu      sync.Mutex
	acc     Accumulator
	stopped bool
}

// HandlePartial publishes an interim hypothesis. Nothing is stored.
func (r *Recording) HandlePartial(original, translated string) {
	now := r.m.Now()
	r.m.broker.Publish(Event{
		Type:           EventPartial,
		SessionID:      r.SessionID,
		OriginalText:   original,
		TranslatedText: translated,
		Timestamp:      now,
	})
}

// HandleFinal appends a committed recognition result to the accumulator,
// publishes the accumulated state, and flushes early when the policy says
// the buffer has grown too large or too old.
func (r *Recording) HandleFinal(ctx context.Context, original, translated string) error {
	original = strings.TrimSpace(original)
	if original == "" {
		return nil
	}
	translated = strings.TrimSpace(translated)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrNotRecording
	}
	now := r.m.Now()
	r.acc.Append(original, translated, now)
	accOrig, accTrans, startedAt, lastUpdated := r.acc.Snapshot()
	flushDue := r.m.policy.due(&r.acc, now)
	r.mu.Unlock()

	r.m.broker.Publish(Event{
		Type:           EventAccumulated,
		SessionID:      r.SessionID,
		OriginalText:   accOrig,
		TranslatedText: accTrans,
		StartedAt:      &startedAt,
		LastUpdated:    &lastUpdated,
		Timestamp:      now,
	})

	if flushDue {
		if _, err := r.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush persists the accumulated paragraph as one segment and resets the
// buffers. An empty accumulator is a no-op. On a persistence error the
// buffers are kept so the next flush retries the same content. Concurrent
// flushes are serialized, never interleaved.
func (r *Recording) Flush(ctx context.Context) (*store.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *Recording) flushLocked(ctx context.Context) (*store.Segment, error) {
	if r.acc.Empty() {
		return nil, nil
	}
	original, translated, _, _ := r.acc.Snapshot()

	seg, err := r.m.store.InsertSegment(ctx, r.SessionID, original, translated, nil)
	if err != nil {
		log.Error().Err(err).Str("session", r.SessionID).Msg("flush failed, keeping accumulator")
		r.m.broker.Publish(Event{
			Type:      EventError,
			SessionID: r.SessionID,
			Detail:    "failed to save transcription",
			Timestamp: r.m.Now(),
		})
		return nil, err
	}
	r.acc.Reset()

	r.m.broker.Publish(Event{
		Type:      EventSegment,
		SessionID: r.SessionID,
		Segment:   &seg,
		Timestamp: r.m.Now(),
	})
	if r.m.notifier != nil {
		r.m.notifier.SegmentPersisted(ctx, seg)
	}
	log.Info().Str("session", r.SessionID).Int("sequence", seg.SequenceNumber).Msg("segment persisted")
	return &seg, nil
}

// Stop flushes and ends the recording. The recording is released even when
// the final flush fails; the error reports what was lost.
func (r *Recording) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.stopped = true
	_, err := r.flushLocked(ctx)
	r.mu.Unlock()

	r.m.release(r.SessionID, r)
	r.m.broker.Publish(Event{
		Type:      EventStopped,
		SessionID: r.SessionID,
		Timestamp: r.m.Now(),
	})
	log.Info().Str("session", r.SessionID).Msg("recording stopped")
	return err
}

// Fail ends the recording after a provider error without flushing, matching
// the adapter contract: state resets to not-recording, no retry.
func (r *Recording) Fail(detail string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.m.release(r.SessionID, r)
	r.m.broker.Publish(Event{
		Type:      EventError,
		SessionID: r.SessionID,
		Detail:    detail,
		Timestamp: r.m.Now(),
	})
	log.Warn().Str("session", r.SessionID).Str("detail", detail).Msg("recording failed")
}
