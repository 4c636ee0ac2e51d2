package live

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 32

// Broker fans live events out to per-session subscribers. Subscription is
// explicit: SSE handlers and the segment notifier each hold their own
// channel and cancel function.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers for a session's events. The returned cancel function
// removes the subscription and closes the channel; it is idempotent.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	m := b.subs[sessionID]
	if m == nil {
		m = make(map[chan Event]struct{})
		b.subs[sessionID] = m
	}
	m[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if m := b.subs[sessionID]; m != nil {
				delete(m, ch)
				if len(m) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its session. Slow
// subscribers drop events rather than stall the recognition path.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("session", ev.SessionID).Str("type", ev.Type).Msg("dropping event for slow subscriber")
		}
	}
}

// Subscribers returns the subscriber count for a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
