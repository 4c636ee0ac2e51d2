package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr   string
	DBPath string

	// Speech-translation provider (cloud recognize-once endpoint).
	SpeechKey        string
	SpeechRegion     string
	SpeechEndpoint   string
	SpeechTimeoutSec int

	// Local whisper engine (whisper_cpp build tag).
	SpeechProvider string
	ModelPath      string

	// Text translation fallback for engines without native translation.
	TranslationBaseURL    string
	TranslationTimeoutSec int

	// Identity provider.
	AuthDomain string

	// Summary LLM.
	SummaryAPIKey  string
	SummaryBaseURL string
	SummaryModel   string

	// Voice synthesis.
	VoiceAPIKey  string
	VoiceBaseURL string
	VoiceID      string

	// Optional segment event fan-out.
	AMQPURL   string
	AMQPQueue string

	// Accumulator flush policy.
	FlushMaxChars  int
	FlushMaxAgeSec int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func Load() Config {
	return Config{
		Addr:   getenv("LINGOLIFT_ADDR", ":8080"),
		DBPath: getenv("LINGOLIFT_DB_PATH", "./lingolift.sqlite"),

		SpeechKey:        os.Getenv("SPEECH_KEY"),
		SpeechRegion:     os.Getenv("SPEECH_REGION"),
		SpeechEndpoint:   os.Getenv("SPEECH_ENDPOINT"),
		SpeechTimeoutSec: getenvInt("SPEECH_TIMEOUT", 15),

		SpeechProvider: getenv("SPEECH_PROVIDER", "cloud"),
		ModelPath:      getenv("WHISPER_MODEL_PATH", "./models/ggml-base.en.bin"),

		TranslationBaseURL:    os.Getenv("TRANSLATION_BASE_URL"),
		TranslationTimeoutSec: getenvInt("TRANSLATION_TIMEOUT", 8),

		AuthDomain: os.Getenv("AUTH_DOMAIN"),

		SummaryAPIKey:  os.Getenv("SUMMARY_API_KEY"),
		SummaryBaseURL: getenv("SUMMARY_BASE_URL", "https://generativelanguage.googleapis.com"),
		SummaryModel:   getenv("SUMMARY_MODEL", "gemini-2.5-flash"),

		VoiceAPIKey:  os.Getenv("VOICE_API_KEY"),
		VoiceBaseURL: getenv("VOICE_BASE_URL", "https://api.elevenlabs.io"),
		VoiceID:      os.Getenv("VOICE_ID"),

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: getenv("AMQP_QUEUE", "lingolift.segments"),

		FlushMaxChars:  getenvInt("FLUSH_MAX_CHARS", 2000),
		FlushMaxAgeSec: getenvInt("FLUSH_MAX_AGE", 120),
	}
}
