package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenEnablesWAL(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, subject string) User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), User{Subject: subject, Email: subject + "@example.com", Name: "Test"})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return u
}

func TestUpsertUserIsIdempotentOnSubject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertUser(ctx, User{Subject: "auth0|abc", Email: "old@example.com"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.UpsertUser(ctx, User{Subject: "auth0|abc", Email: "new@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("upsert created a new row: %s != %s", first.ID, second.ID)
	}
	if second.Email != "new@example.com" {
		t.Errorf("email not refreshed: %q", second.Email)
	}
	if !second.EmailVerified {
		t.Error("email_verified not refreshed")
	}
}

func TestSessionForUserHidesForeignSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "auth0|owner")
	other := seedUser(t, s, "auth0|other")

	sess, err := s.CreateSession(ctx, owner.ID, "Lecture 1", "es")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := s.SessionForUser(ctx, sess.ID, owner.ID); err != nil {
		t.Fatalf("owner fetch: %v", err)
	}
	if _, err := s.SessionForUser(ctx, sess.ID, other.ID); err != ErrNotFound {
		t.Fatalf("foreign fetch: got %v, want ErrNotFound", err)
	}
}

func TestInsertSegmentAssignsSequenceNumbers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "auth0|seq")
	sess, err := s.CreateSession(ctx, u.ID, "Lecture", "fr")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i := 0; i < 3; i++ {
		seg, err := s.InsertSegment(ctx, sess.ID, "hello", "bonjour", nil)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if seg.SequenceNumber != i {
			t.Errorf("segment %d: sequence = %d", i, seg.SequenceNumber)
		}
	}

	// Another session starts over at 0.
	sess2, err := s.CreateSession(ctx, u.ID, "Lecture 2", "fr")
	if err != nil {
		t.Fatalf("create session 2: %v", err)
	}
	seg, err := s.InsertSegment(ctx, sess2.ID, "x", "y", nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if seg.SequenceNumber != 0 {
		t.Errorf("new session sequence = %d, want 0", seg.SequenceNumber)
	}
}

func TestSegmentsForSessionOrderedAndStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "auth0|order")
	sess, _ := s.CreateSession(ctx, u.ID, "Lecture", "de")

	conf := 0.92
	if _, err := s.InsertSegment(ctx, sess.ID, "one", "eins", &conf); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertSegment(ctx, sess.ID, "two", "zwei", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := s.SegmentsForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, err := s.SegmentsForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list again: %v", err)
	}

	if len(first) != 2 {
		t.Fatalf("got %d segments, want 2", len(first))
	}
	if first[0].OriginalText != "one" || first[1].OriginalText != "two" {
		t.Errorf("wrong order: %q, %q", first[0].OriginalText, first[1].OriginalText)
	}
	if first[0].ConfidenceScore == nil || *first[0].ConfidenceScore != conf {
		t.Errorf("confidence not round-tripped: %v", first[0].ConfidenceScore)
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].SequenceNumber != second[i].SequenceNumber {
			t.Errorf("listing not stable at %d", i)
		}
	}
}

func TestRecentSessionsPreviewAndCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "auth0|recent")
	for i := 0; i < 12; i++ {
		sess, err := s.CreateSession(ctx, u.ID, "Lecture", "es")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if i == 11 {
			if _, err := s.InsertSegment(ctx, sess.ID, "first words", "primeras palabras", nil); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
	}

	list, err := s.RecentSessions(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(list) != 10 {
		t.Fatalf("got %d sessions, want 10", len(list))
	}
	// Sessions without segments fall back to the title.
	sawSegmentPreview := false
	for _, p := range list {
		switch p.PreviewText {
		case "first words":
			sawSegmentPreview = true
		case "Lecture":
		default:
			t.Errorf("unexpected preview %q", p.PreviewText)
		}
	}
	if !sawSegmentPreview {
		t.Error("no session used its first segment as preview")
	}
}

func TestEndSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "auth0|end")
	sess, _ := s.CreateSession(ctx, u.ID, "Lecture", "es")

	if err := s.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, err := s.SessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.EndedAt == nil {
		t.Fatal("ended_at not set")
	}
	first := *got.EndedAt

	// Ending twice keeps the original timestamp.
	if err := s.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("end twice: %v", err)
	}
	got, _ = s.SessionByID(ctx, sess.ID)
	if !got.EndedAt.Equal(first) {
		t.Errorf("ended_at changed on second end: %v != %v", got.EndedAt, first)
	}

	if err := s.EndSession(ctx, "missing"); err != ErrNotFound {
		t.Errorf("missing session: got %v, want ErrNotFound", err)
	}
}
