// Package ws bridges a client's live audio stream to the speech engine.
// The protocol is JSON text frames: "start" binds a session, "chunk"
// carries base64 WAV or PCM16 audio, "stop" flushes and ends the
// recording. Transcript events flow back on the same connection.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/audio"
	"github.com/lingolift/lingolift/internal/live"
	"github.com/lingolift/lingolift/internal/speech"
	"github.com/lingolift/lingolift/internal/store"
)

const (
	readDeadline = 60 * time.Second

	// Recognition passes run over the unfinalized tail of the buffer.
	minWindowSamples = audio.TargetSampleRate / 2
	recognizeEvery   = 300 * time.Millisecond

	// A hypothesis unchanged across this many passes is committed as final.
	stableThreshold = 2

	// Rolling buffer bounds: keep at most 90s, discard the oldest 30s.
	maxBufferSamples = 90 * audio.TargetSampleRate
	discardSamples   = 30 * audio.TargetSampleRate

	newSessionTitle = "Live session"
)

type Server struct {
	upgrader websocket.Upgrader
	engine   speech.Engine
	store    *store.Store
	manager  *live.Manager
}

func NewServer(engine speech.Engine, st *store.Store, manager *live.Manager) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
		engine:  engine,
		store:   st,
		manager: manager,
	}
}

// clientMessage is every inbound frame; unused fields stay zero.
type clientMessage struct {
	Type           string  `json:"type"`
	SessionID      string  `json:"session_id"`
	TargetLanguage string  `json:"target_language"`
	Data           string  `json:"data"`
	MimeType       string  `json:"mime_type"`
	SampleRate     any     `json:"sample_rate"`
	TS             float64 `json:"ts"`
}

// conn is the per-connection state. The reader goroutine owns everything
// except the sample buffer, which the recognition worker shares.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	user store.User

	send chan any

	recording *live.Recording
	session   store.Session

	samplesMu      sync.Mutex
	samples        []float32
	utteranceStart int

	workerStarted bool
	exitWorker    chan struct{}
}

// Handle upgrades the request and runs the protocol loop for an
// authenticated user.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, user store.User) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &conn{
		srv:        s,
		ws:         sock,
		user:       user,
		send:       make(chan any, 64),
		exitWorker: make(chan struct{}),
	}
	c.run()
}

func (c *conn) run() {
	defer c.ws.Close()

	_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	// Single writer: acks from the reader and broker events both funnel
	// through one goroutine. The subscription channel arrives over subCh
	// once "start" resolves a session.
	writerDone := make(chan struct{})
	subCh := make(chan (<-chan live.Event), 1)
	var cancelSub func()

	go func() {
		defer close(writerDone)
		var events <-chan live.Event // nil until subscribed; a nil case never fires
		for {
			select {
			case msg, ok := <-c.send:
				if !ok {
					return
				}
				if err := c.ws.WriteJSON(msg); err != nil {
					log.Warn().Err(err).Msg("ws write failed")
					return
				}
			case ch := <-subCh:
				events = ch
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if err := c.ws.WriteJSON(ev); err != nil {
					log.Warn().Err(err).Msg("ws event write failed")
					return
				}
			}
		}
	}()

	defer func() {
		c.stopWorker()
		if c.recording != nil {
			c.recording.Fail("connection closed")
			c.recording = nil
		}
		if cancelSub != nil {
			cancelSub()
		}
		close(c.send)
		<-writerDone
	}()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("ws read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		if mt != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(map[string]any{"type": "error", "detail": "invalid json"})
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(map[string]any{"type": "pong", "ts": msg.TS})

		case "start":
			if c.recording != nil {
				c.reply(map[string]any{"type": "error", "detail": "already recording"})
				continue
			}
			if c.srv.engine == nil {
				c.reply(map[string]any{"type": "error", "detail": "speech provider not configured"})
				continue
			}
			sess, err := c.bindSession(msg)
			if err != nil {
				c.reply(map[string]any{"type": "error", "detail": err.Error()})
				continue
			}
			rec, err := c.srv.manager.Start(sess.ID, sess.TargetLanguage)
			if err != nil {
				c.reply(map[string]any{"type": "error", "detail": "session is already recording"})
				continue
			}
			c.session = sess
			c.recording = rec

			// A fresh recording gets a fresh buffer and worker lifetime.
			c.samplesMu.Lock()
			c.samples = nil
			c.utteranceStart = 0
			c.samplesMu.Unlock()
			c.workerStarted = false
			c.exitWorker = make(chan struct{})

			if cancelSub != nil {
				cancelSub()
			}
			var events <-chan live.Event
			events, cancelSub = c.srv.manager.Broker().Subscribe(sess.ID)
			subCh <- events

			c.reply(map[string]any{"type": "started", "session_id": sess.ID, "target_language": sess.TargetLanguage})

		case "chunk":
			if c.recording == nil {
				c.reply(map[string]any{"type": "error", "detail": "start a session before sending audio"})
				continue
			}
			if err := c.appendChunk(msg); err != nil {
				c.reply(map[string]any{"type": "error", "detail": err.Error()})
				continue
			}
			if !c.workerStarted {
				c.workerStarted = true
				go c.recognitionWorker(c.recording, c.session.TargetLanguage, c.exitWorker)
			}

		case "stop":
			c.stopWorker()
			if c.recording != nil {
				if err := c.recording.Stop(context.Background()); err != nil && err != live.ErrNotRecording {
					log.Error().Err(err).Str("session", c.session.ID).Msg("final flush failed")
				}
				c.recording = nil
			}
			c.reply(map[string]any{"type": "stopped"})

		default:
			c.reply(map[string]any{"type": "error", "detail": "unknown message type"})
		}
	}
}

func (c *conn) reply(msg map[string]any) {
	select {
	case c.send <- msg:
	default:
		log.Warn().Msg("ws send buffer full, dropping reply")
	}
}

// bindSession resolves the start message to a session owned by the caller,
// creating one when no id is given.
func (c *conn) bindSession(msg clientMessage) (store.Session, error) {
	ctx := context.Background()
	if msg.SessionID == "" {
		target := msg.TargetLanguage
		if target == "" {
			target = "es"
		}
		return c.srv.store.CreateSession(ctx, c.user.ID, newSessionTitle, target)
	}
	sess, err := c.srv.store.SessionForUser(ctx, msg.SessionID, c.user.ID)
	if err != nil {
		return store.Session{}, errSessionNotFound
	}
	return sess, nil
}

var errSessionNotFound = errors.New("session not found")

// appendChunk decodes one audio frame into the shared sample buffer,
// resampling to 16 kHz and trimming the rolling window.
func (c *conn) appendChunk(msg clientMessage) error {
	if msg.Data == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return errors.New("invalid base64 audio")
	}

	var (
		pcm []float32
		sr  int
	)
	switch msg.MimeType {
	case "audio/pcm", "audio/L16", "audio/pcm16":
		pcm, sr, err = audio.DecodePCM16(raw, int(asFloat(msg.SampleRate)))
	default:
		pcm, sr, err = audio.DecodeWAV(raw)
	}
	if err != nil {
		log.Warn().Err(err).Msg("audio decode failed")
		return errors.New("decode audio failed")
	}
	if sr != audio.TargetSampleRate {
		pcm = audio.Resample(pcm, sr, audio.TargetSampleRate)
	}
	if len(pcm) == 0 {
		return nil
	}

	c.samplesMu.Lock()
	c.samples = append(c.samples, pcm...)
	if len(c.samples) > maxBufferSamples {
		c.samples = c.samples[discardSamples:]
		if c.utteranceStart > discardSamples {
			c.utteranceStart -= discardSamples
		} else {
			c.utteranceStart = 0
		}
	}
	c.samplesMu.Unlock()
	return nil
}

func (c *conn) stopWorker() {
	if c.workerStarted {
		select {
		case <-c.exitWorker:
		default:
			close(c.exitWorker)
		}
	}
}

// recognitionWorker repeatedly recognizes the unfinalized tail of the
// buffer. A hypothesis that survives unchanged across passes is committed
// as a final result and the utterance window advances past it; otherwise
// it is published as a partial.
func (c *conn) recognitionWorker(rec *live.Recording, target string, exit <-chan struct{}) {
	log.Info().Str("session", rec.SessionID).Msg("recognition worker started")
	defer log.Info().Str("session", rec.SessionID).Msg("recognition worker stopped")

	var lastText string
	var stableCount int

	ticker := time.NewTicker(recognizeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-exit:
			return
		case <-ticker.C:
		}

		c.samplesMu.Lock()
		windowEnd := len(c.samples)
		window := make([]float32, windowEnd-c.utteranceStart)
		copy(window, c.samples[c.utteranceStart:])
		c.samplesMu.Unlock()

		if len(window) < minWindowSamples {
			continue
		}

		res, err := c.srv.engine.Recognize(context.Background(), window, target)
		if err != nil {
			// Provider failure ends the recording; the client may start over.
			rec.Fail("recognition failed: " + err.Error())
			return
		}
		if res.NoSpeech || res.OriginalText == "" {
			continue
		}

		if res.OriginalText == lastText {
			stableCount++
		} else {
			lastText = res.OriginalText
			stableCount = 1
		}

		if stableCount >= stableThreshold {
			if err := rec.HandleFinal(context.Background(), res.OriginalText, res.TranslatedText); err != nil && err != live.ErrNotRecording {
				log.Error().Err(err).Str("session", rec.SessionID).Msg("final handling failed")
			}
			c.samplesMu.Lock()
			c.utteranceStart = windowEnd
			c.samplesMu.Unlock()
			lastText = ""
			stableCount = 0
			continue
		}

		rec.HandlePartial(res.OriginalText, res.TranslatedText)
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	default:
		return 0
	}
}
