package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lingolift/lingolift/internal/auth"
	"github.com/lingolift/lingolift/internal/config"
	"github.com/lingolift/lingolift/internal/httpapi"
	"github.com/lingolift/lingolift/internal/live"
	"github.com/lingolift/lingolift/internal/notify"
	"github.com/lingolift/lingolift/internal/speech"
	"github.com/lingolift/lingolift/internal/store"
	"github.com/lingolift/lingolift/internal/summarize"
	"github.com/lingolift/lingolift/internal/translation"
	"github.com/lingolift/lingolift/internal/voice"
	"github.com/lingolift/lingolift/internal/ws"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			lvl = l
		}
	}
	log.Logger = log.Level(lvl)

	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	defer st.Close()

	translator := translation.New(cfg.TranslationBaseURL, cfg.TranslationTimeoutSec)
	engine, err := speech.New(cfg, translator)
	if err != nil {
		if errors.Is(err, speech.ErrNotConfigured) {
			log.Warn().Msg("speech provider not configured, transcription disabled")
			engine = nil
		} else {
			log.Fatal().Err(err).Msg("speech engine init failed")
		}
	}

	var notifier live.SegmentNotifier
	if cfg.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connect failed")
		}
		defer pub.Close()
		notifier = pub
	}

	manager := live.NewManager(st, live.NewBroker(), live.FlushPolicy{
		MaxChars: cfg.FlushMaxChars,
		MaxAge:   time.Duration(cfg.FlushMaxAgeSec) * time.Second,
	}, notifier)

	api := &httpapi.API{
		Store:      st,
		Auth:       auth.New(cfg.AuthDomain),
		Engine:     engine,
		Manager:    manager,
		Summarizer: summarize.New(cfg.SummaryBaseURL, cfg.SummaryAPIKey, cfg.SummaryModel),
		Voice:      voice.New(cfg.VoiceBaseURL, cfg.VoiceAPIKey, cfg.VoiceID),
		WS:         ws.NewServer(engine, st, manager),
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     httpapi.NewRouter(api),
		ReadTimeout: 30 * time.Second,
		// Write timeout would cut off SSE and WebSocket streams.
		WriteTimeout: 0,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("lingolift server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
