// Package httpapi exposes the REST and streaming surface of the service.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/auth"
	"github.com/lingolift/lingolift/internal/live"
	"github.com/lingolift/lingolift/internal/speech"
	"github.com/lingolift/lingolift/internal/store"
	"github.com/lingolift/lingolift/internal/summarize"
	"github.com/lingolift/lingolift/internal/voice"
	"github.com/lingolift/lingolift/internal/ws"
)

// API bundles the dependencies the handlers need.
type API struct {
	Store      *store.Store
	Auth       *auth.Client
	Engine     speech.Engine
	Manager    *live.Manager
	Summarizer *summarize.Client
	Voice      *voice.Client
	WS         *ws.Server
}

// NewRouter wires every route. All /api and /ws routes require a bearer
// token resolvable through the identity provider.
func NewRouter(api *API) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	syncUser := api.requireUser(api.handleSyncUser)
	mux.HandleFunc("POST /api/auth/sync-user", syncUser)
	mux.HandleFunc("GET /api/auth/sync-user", syncUser)
	mux.HandleFunc("POST /api/sessions", api.requireUser(api.handleCreateSession))
	mux.HandleFunc("GET /api/sessions", api.requireUser(api.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{id}", api.requireUser(api.handleGetSession))
	mux.HandleFunc("POST /api/sessions/{id}/end", api.requireUser(api.handleEndSession))
	mux.HandleFunc("GET /api/sessions/{id}/events", api.requireUser(api.handleSessionEvents))
	mux.HandleFunc("POST /api/translate-speech", api.requireUser(api.handleTranslateSpeech))
	mux.HandleFunc("POST /api/gemini", api.requireUser(api.handleSummary))
	mux.HandleFunc("POST /api/voice", api.requireUser(api.handleVoice))
	mux.HandleFunc("/ws/transcribe", api.requireUser(func(w http.ResponseWriter, r *http.Request, user store.User) {
		api.WS.Handle(w, r, user)
	}))

	return logRequests(mux)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user store.User)

// requireUser resolves the bearer token to a local user row. The profile is
// upserted on every authenticated request so name/picture changes at the
// provider propagate without an explicit sync. WebSocket clients cannot set
// an Authorization header from the browser, so a token query parameter is
// accepted as a fallback.
func (a *API) requireUser(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		profile, err := a.Auth.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			log.Error().Err(err).Msg("userinfo lookup failed")
			writeError(w, http.StatusBadGateway, "identity provider unavailable")
			return
		}
		user, err := a.Store.UpsertUser(r.Context(), store.User{
			Subject:       profile.Subject,
			Email:         profile.Email,
			Name:          profile.Name,
			Picture:       profile.Picture,
			EmailVerified: profile.EmailVerified,
		})
		if err != nil {
			log.Error().Err(err).Msg("user upsert failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r, user)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps the WebSocket upgrade working through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
