// Package store persists users, sessions and transcription segments in SQLite.
package store

import "time"

// User mirrors the identity-provider profile we keep locally.
type User struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Picture       string    `json:"picture"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session is one user-initiated recording activity.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	TargetLanguage string     `json:"target_language"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// SessionPreview is a session plus the first segment's original text,
// used by the recent-sessions listing.
type SessionPreview struct {
	Session
	PreviewText string `json:"preview_text"`
}

// Segment is one persisted unit of original+translated text within a session.
// SequenceNumber is assigned by the store inside the insert transaction and
// is strictly increasing per session, starting at 0.
type Segment struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	OriginalText    string    `json:"original_text"`
	TranslatedText  string    `json:"translated_text"`
	SequenceNumber  int       `json:"sequence_number"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
