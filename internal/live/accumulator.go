package live

import "time"

// Accumulator merges consecutive final recognition results into one running
// paragraph so a session does not persist one row per short utterance.
// It is not safe for concurrent use; Recording serializes access.
type Accumulator struct {
	original    string
	translated  string
	startedAt   time.Time
	lastUpdated time.Time
}

// Append adds a final result. The first append initializes both buffers;
// later appends join with exactly one separating space.
func (a *Accumulator) Append(original, translated string, now time.Time) {
	if a.original == "" {
		a.original = original
		a.translated = translated
		a.startedAt = now
	} else {
		a.original += " " + original
		a.translated += " " + translated
	}
	a.lastUpdated = now
}

// Empty reports whether there is nothing to flush.
func (a *Accumulator) Empty() bool { return a.original == "" }

// Len returns the accumulated original text length in bytes.
func (a *Accumulator) Len() int { return len(a.original) }

// Age returns how long content has been accumulating.
func (a *Accumulator) Age(now time.Time) time.Duration {
	if a.Empty() {
		return 0
	}
	return now.Sub(a.startedAt)
}

// Snapshot returns the current buffers and timestamps.
func (a *Accumulator) Snapshot() (original, translated string, startedAt, lastUpdated time.Time) {
	return a.original, a.translated, a.startedAt, a.lastUpdated
}

// Reset clears the buffers after a successful flush.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}
