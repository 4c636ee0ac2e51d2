package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist or the caller is not
// allowed to see it. Handlers translate it to 404 without distinguishing
// the two cases.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	picture TEXT NOT NULL DEFAULT '',
	email_verified INTEGER NOT NULL DEFAULT 0,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	title TEXT NOT NULL,
	target_language TEXT NOT NULL,
	created_at REAL NOT NULL,
	ended_at REAL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS transcriptions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	original_text TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	confidence_score REAL,
	created_at REAL NOT NULL,
	UNIQUE(session_id, sequence_number)
);
`

// Store wraps the SQLite database. All methods are safe for concurrent use;
// SQLite serializes writers underneath.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path with WAL enabled.
// Pass ":memory:" for an in-process throwaway database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertUser creates or refreshes the profile row keyed by the identity
// provider subject and returns the stored user.
func (s *Store) UpsertUser(ctx context.Context, u User) (User, error) {
	now := unixNow()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, subject, email, name, picture, email_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			picture = excluded.picture,
			email_verified = excluded.email_verified,
			updated_at = excluded.updated_at
	`, uuid.NewString(), u.Subject, u.Email, u.Name, u.Picture, boolToInt(u.EmailVerified), now, now)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.UserBySubject(ctx, u.Subject)
}

// UserBySubject fetches the profile stored for an identity-provider subject.
func (s *Store) UserBySubject(ctx context.Context, subject string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject, email, name, picture, email_verified, created_at, updated_at
		FROM users WHERE subject = ?
	`, subject)

	var u User
	var verified int
	var createdAt, updatedAt float64
	if err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.Name, &u.Picture, &verified, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.EmailVerified = verified != 0
	u.CreatedAt = timeFromUnix(createdAt)
	u.UpdatedAt = timeFromUnix(updatedAt)
	return u, nil
}

// CreateSession inserts a new recording session owned by userID.
func (s *Store) CreateSession(ctx context.Context, userID, title, targetLanguage string) (Session, error) {
	sess := Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          title,
		TargetLanguage: targetLanguage,
		CreatedAt:      time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, title, target_language, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Title, sess.TargetLanguage, unixTime(sess.CreatedAt))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// SessionForUser fetches one session only if it is owned by userID.
func (s *Store) SessionForUser(ctx context.Context, id, userID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, target_language, created_at, ended_at
		FROM sessions WHERE id = ? AND user_id = ?
	`, id, userID)
	return scanSession(row)
}

// SessionByID fetches one session regardless of owner. Internal callers only.
func (s *Store) SessionByID(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, target_language, created_at, ended_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	var createdAt float64
	var endedAt sql.NullFloat64
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.TargetLanguage, &createdAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = timeFromUnix(createdAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return sess, nil
}

// RecentSessions lists the caller's most recent sessions, newest first,
// each with the first segment's original text as a preview.
func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]SessionPreview, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.title, s.target_language, s.created_at, s.ended_at,
			COALESCE((
				SELECT t.original_text FROM transcriptions t
				WHERE t.session_id = s.id
				ORDER BY t.sequence_number ASC LIMIT 1
			), s.title)
		FROM sessions s
		WHERE s.user_id = ?
		ORDER BY s.created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionPreview
	for rows.Next() {
		var p SessionPreview
		var createdAt float64
		var endedAt sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.TargetLanguage, &createdAt, &endedAt, &p.PreviewText); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		p.CreatedAt = timeFromUnix(createdAt)
		if endedAt.Valid {
			t := timeFromUnix(endedAt.Float64)
			p.EndedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EndSession marks the session ended. Ending an already-ended session keeps
// the original timestamp.
func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, unixNow(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already ended; only the former is an error.
		if _, err := s.SessionByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// InsertSegment appends one transcription segment to a session. The sequence
// number is assigned here, inside the transaction, so concurrent writers for
// the same session cannot collide.
func (s *Store) InsertSegment(ctx context.Context, sessionID, original, translated string, confidence *float64) (Segment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Segment{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number) + 1, 0) FROM transcriptions WHERE session_id = ?
	`, sessionID).Scan(&seq); err != nil {
		return Segment{}, fmt.Errorf("next sequence: %w", err)
	}

	seg := Segment{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		OriginalText:    original,
		TranslatedText:  translated,
		SequenceNumber:  seq,
		ConfidenceScore: confidence,
		CreatedAt:       time.Now(),
	}
	var conf sql.NullFloat64
	if confidence != nil {
		conf = sql.NullFloat64{Float64: *confidence, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcriptions (id, session_id, original_text, translated_text, sequence_number, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, seg.ID, seg.SessionID, seg.OriginalText, seg.TranslatedText, seg.SequenceNumber, conf, unixTime(seg.CreatedAt)); err != nil {
		return Segment{}, fmt.Errorf("insert segment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Segment{}, fmt.Errorf("commit: %w", err)
	}
	return seg, nil
}

// SegmentsForSession returns all segments of a session ordered by sequence
// number ascending.
func (s *Store) SegmentsForSession(ctx context.Context, sessionID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, original_text, translated_text, sequence_number, confidence_score, created_at
		FROM transcriptions
		WHERE session_id = ?
		ORDER BY sequence_number ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		var conf sql.NullFloat64
		var createdAt float64
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.OriginalText, &seg.TranslatedText, &seg.SequenceNumber, &conf, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if conf.Valid {
			c := conf.Float64
			seg.ConfidenceScore = &c
		}
		seg.CreatedAt = timeFromUnix(createdAt)
		out = append(out, seg)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNow() float64 { return unixTime(time.Now()) }

func unixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
