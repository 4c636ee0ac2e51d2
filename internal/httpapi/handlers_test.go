package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lingolift/lingolift/internal/audio"
	"github.com/lingolift/lingolift/internal/auth"
	"github.com/lingolift/lingolift/internal/live"
	"github.com/lingolift/lingolift/internal/speech"
	"github.com/lingolift/lingolift/internal/store"
	"github.com/lingolift/lingolift/internal/ws"
)

type fakeEngine struct {
	result speech.Result
	err    error
}

func (f *fakeEngine) Recognize(ctx context.Context, samples []float32, targetLanguage string) (speech.Result, error) {
	return f.result, f.err
}

func (f *fakeEngine) Close() error { return nil }

// Interface checks keep the doubles honest.
var _ speech.Engine = (*fakeEngine)(nil)

// fakeIdentity maps bearer tokens to stable subjects so tests can act as
// distinct users.
func fakeIdentity() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" || strings.HasPrefix(token, "bad") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"sub":   "sub-" + token,
			"email": token + "@example.com",
			"name":  token,
		})
	}))
}

type testEnv struct {
	api      *API
	server   *httptest.Server
	identity *httptest.Server
	store    *store.Store
}

func newTestEnv(t *testing.T, engine speech.Engine) *testEnv {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	identity := fakeIdentity()
	t.Cleanup(identity.Close)

	manager := live.NewManager(st, live.NewBroker(), live.FlushPolicy{}, nil)
	api := &API{
		Store:   st,
		Auth:    auth.New(identity.URL),
		Engine:  engine,
		Manager: manager,
		WS:      ws.NewServer(engine, st, manager),
	}
	server := httptest.NewServer(NewRouter(api))
	t.Cleanup(server.Close)

	return &testEnv{api: api, server: server, identity: identity, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) createSession(t *testing.T, token, title, lang string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/sessions", token, map[string]string{
		"title": title, "targetLanguage": lang,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	session := body["session"].(map[string]any)
	return session["id"].(string)
}

func wavBase64(t *testing.T) string {
	t.Helper()
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.25
	}
	b, err := audio.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true {
		t.Fatalf("body = %v, want ok:true", body)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/sessions", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/sessions", "bad-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("rejected token: status = %d, want 401", resp.StatusCode)
	}
}

func TestSyncUserUpserts(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/auth/sync-user", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	user := body["user"].(map[string]any)
	if user["subject"] != "sub-alice" {
		t.Fatalf("subject = %v, want sub-alice", user["subject"])
	}
	if user["email"] != "alice@example.com" {
		t.Fatalf("email = %v", user["email"])
	}

	// Same subject again keeps one row.
	resp = env.do(t, http.MethodGet, "/api/auth/sync-user", "alice", nil)
	again := decodeBody(t, resp)["user"].(map[string]any)
	if again["id"] != user["id"] {
		t.Fatalf("second sync produced a new user: %v vs %v", again["id"], user["id"])
	}

	// Only POST and GET are registered.
	resp = env.do(t, http.MethodPut, "/api/auth/sync-user", "alice", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT sync-user: status = %d, want 405", resp.StatusCode)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/api/sessions", "alice", map[string]string{"title": "no language"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestForeignSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "alice", "Alice's lecture", "es")

	for _, path := range []string{
		"/api/sessions/" + id,
		"/api/sessions/" + id + "/events",
	} {
		resp := env.do(t, http.MethodGet, path, "bob", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s as bob: status = %d, want 404", path, resp.StatusCode)
		}
	}
	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/end", "bob", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("end as bob: status = %d, want 404", resp.StatusCode)
	}

	// The owner still sees it.
	resp = env.do(t, http.MethodGet, "/api/sessions/"+id, "alice", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET as alice: status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionDetailOrdersSegments(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "alice", "Ordering", "fr")

	for i := 0; i < 4; i++ {
		if _, err := env.store.InsertSegment(context.Background(), id,
			fmt.Sprintf("original %d", i), fmt.Sprintf("translated %d", i), nil); err != nil {
			t.Fatalf("insert segment: %v", err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/sessions/"+id, "alice", nil)
	body := decodeBody(t, resp)
	segments := body["segments"].([]any)
	if len(segments) != 4 {
		t.Fatalf("len(segments) = %d, want 4", len(segments))
	}
	for i, raw := range segments {
		seg := raw.(map[string]any)
		if int(seg["sequence_number"].(float64)) != i {
			t.Fatalf("segment %d has sequence %v", i, seg["sequence_number"])
		}
		if seg["original_text"] != fmt.Sprintf("original %d", i) {
			t.Fatalf("segment %d text = %v", i, seg["original_text"])
		}
	}
}

func TestRecentSessionsPreview(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.createSession(t, "alice", "With segment", "de")
	env.createSession(t, "alice", "Empty one", "de")
	if _, err := env.store.InsertSegment(context.Background(), first, "hello there", "hallo", nil); err != nil {
		t.Fatalf("insert segment: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/sessions", "alice", nil)
	body := decodeBody(t, resp)
	sessions := body["sessions"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	previews := map[string]string{}
	for _, raw := range sessions {
		s := raw.(map[string]any)
		previews[s["title"].(string)] = s["preview_text"].(string)
	}
	if previews["With segment"] != "hello there" {
		t.Fatalf("preview = %q, want first segment text", previews["With segment"])
	}
	if previews["Empty one"] != "Empty one" {
		t.Fatalf("preview = %q, want title fallback", previews["Empty one"])
	}
}

func TestEndSessionSetsEndedAt(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "alice", "Ending", "es")

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/end", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	session := decodeBody(t, resp)["session"].(map[string]any)
	if session["ended_at"] == nil {
		t.Fatal("ended_at not set")
	}
}

func TestTranslateSpeechMissingFields(t *testing.T) {
	env := newTestEnv(t, &fakeEngine{result: speech.Result{OriginalText: "hi", TranslatedText: "hola"}})
	id := env.createSession(t, "alice", "Validation", "es")

	resp := env.do(t, http.MethodPost, "/api/translate-speech", "alice", map[string]any{
		"audioData": wavBase64(t),
		"sessionId": id,
		// targetLanguage missing
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	segments, err := env.store.SegmentsForSession(context.Background(), id)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("rejected request persisted %d segments", len(segments))
	}
}

func TestTranslateSpeechPersistsSegment(t *testing.T) {
	conf := 0.93
	env := newTestEnv(t, &fakeEngine{result: speech.Result{
		OriginalText:   "good morning",
		TranslatedText: "buenos dias",
		Confidence:     &conf,
	}})
	id := env.createSession(t, "alice", "One shot", "es")

	resp := env.do(t, http.MethodPost, "/api/translate-speech", "alice", map[string]any{
		"audioData":      wavBase64(t),
		"sessionId":      id,
		"targetLanguage": "es",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["originalText"] != "good morning" || body["translatedText"] != "buenos dias" {
		t.Fatalf("body = %v", body)
	}
	if int(body["sequenceNumber"].(float64)) != 0 {
		t.Fatalf("sequenceNumber = %v, want 0", body["sequenceNumber"])
	}

	segments, err := env.store.SegmentsForSession(context.Background(), id)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segments))
	}
	if segments[0].ConfidenceScore == nil || *segments[0].ConfidenceScore != conf {
		t.Fatalf("confidence = %v, want %v", segments[0].ConfidenceScore, conf)
	}
}

func TestTranslateSpeechNoSpeech(t *testing.T) {
	env := newTestEnv(t, &fakeEngine{result: speech.Result{NoSpeech: true}})
	id := env.createSession(t, "alice", "Silence", "es")

	resp := env.do(t, http.MethodPost, "/api/translate-speech", "alice", map[string]any{
		"audioData":      wavBase64(t),
		"sessionId":      id,
		"targetLanguage": "es",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["originalText"] != "" || body["translatedText"] != "" {
		t.Fatalf("body = %v, want empty texts", body)
	}

	segments, err := env.store.SegmentsForSession(context.Background(), id)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("silence persisted %d segments", len(segments))
	}
}

func TestTranslateSpeechWithoutEngine(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t, "alice", "No engine", "es")

	resp := env.do(t, http.MethodPost, "/api/translate-speech", "alice", map[string]any{
		"audioData":      wavBase64(t),
		"sessionId":      id,
		"targetLanguage": "es",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
