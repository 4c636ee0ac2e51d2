package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/live"
	"github.com/lingolift/lingolift/internal/store"
)

const recentSessionLimit = 10

func (a *API) handleSyncUser(w http.ResponseWriter, r *http.Request, user store.User) {
	// The middleware already upserted the profile; just echo the row.
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request, user store.User) {
	var req struct {
		Title          string `json:"title"`
		TargetLanguage string `json:"targetLanguage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TargetLanguage == "" {
		writeError(w, http.StatusBadRequest, "targetLanguage is required")
		return
	}
	if req.Title == "" {
		req.Title = "Untitled session"
	}
	session, err := a.Store.CreateSession(r.Context(), user.ID, req.Title, req.TargetLanguage)
	if err != nil {
		log.Error().Err(err).Msg("session create failed")
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request, user store.User) {
	sessions, err := a.Store.RecentSessions(r.Context(), user.ID, recentSessionLimit)
	if err != nil {
		log.Error().Err(err).Msg("session list failed")
		writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// ownedSession loads the session with a 404 for both nonexistent ids and
// sessions owned by someone else, so the response does not leak existence.
func (a *API) ownedSession(w http.ResponseWriter, r *http.Request, user store.User) (store.Session, bool) {
	session, err := a.Store.SessionForUser(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			log.Error().Err(err).Msg("session lookup failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return store.Session{}, false
	}
	return session, true
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request, user store.User) {
	session, ok := a.ownedSession(w, r, user)
	if !ok {
		return
	}
	segments, err := a.Store.SegmentsForSession(r.Context(), session.ID)
	if err != nil {
		log.Error().Err(err).Msg("segment list failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"segments": segments,
	})
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request, user store.User) {
	session, ok := a.ownedSession(w, r, user)
	if !ok {
		return
	}
	// Persist whatever is still accumulating before the session closes.
	if err := a.Manager.FlushSession(r.Context(), session.ID); err != nil && !errors.Is(err, live.ErrNotRecording) {
		log.Warn().Err(err).Str("session", session.ID).Msg("flush on end failed")
		writeError(w, http.StatusInternalServerError, "could not flush live transcript")
		return
	}
	if err := a.Store.EndSession(r.Context(), session.ID); err != nil {
		log.Error().Err(err).Msg("session end failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ended, err := a.Store.SessionByID(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": ended})
}

func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request, user store.User) {
	session, ok := a.ownedSession(w, r, user)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := a.Manager.Broker().Subscribe(session.ID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Debug().Err(err).Msg("event marshal failed")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
