package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Postgres connection string for the conversation store.
	DatabaseURL string

	// HMAC secret used to verify session tokens.
	AuthSecret string

	OpenAIKey     string
	OpenAIBaseURL string
	GeminiKey     string

	// Whisper transcription. Defaults to the OpenAI endpoint and key.
	TranscriptionBaseURL string

	SpeechKey        string
	SpeechBaseURL    string
	SpeechWSBaseURL  string
	SpeechModel      string
	SpeechEncoding   string
	SpeechSampleRate int

	// Billing notifier endpoint and its request-signing secret.
	BillingURL    string
	BillingSecret string
	BillingToken  string

	// MediaDir is the root directory for uploaded images and voice clips.
	MediaDir string

	// StreamBufferFrames bounds the producer/writer frame channel.
	StreamBufferFrames int

	MaxBodyBytes int64

	// ModelPrices overrides per-turn model costs, "model=price" pairs.
	ModelPrices map[string]float64

	ReadHeaderTimeout   time.Duration
	TurnTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("PARLEY_ADDR", ":8080"),
		DatabaseURL:          envOr("PARLEY_DATABASE_URL", ""),
		AuthSecret:           envOr("PARLEY_AUTH_SECRET", ""),
		OpenAIKey:            envOr("PARLEY_OPENAI_API_KEY", ""),
		OpenAIBaseURL:        envOr("PARLEY_OPENAI_BASE_URL", ""),
		GeminiKey:            envOr("PARLEY_GEMINI_API_KEY", ""),
		TranscriptionBaseURL: envOr("PARLEY_TRANSCRIPTION_BASE_URL", ""),
		SpeechKey:            envOr("PARLEY_SPEECH_API_KEY", ""),
		SpeechBaseURL:        envOr("PARLEY_SPEECH_BASE_URL", ""),
		SpeechWSBaseURL:      envOr("PARLEY_SPEECH_WS_BASE_URL", ""),
		SpeechModel:          envOr("PARLEY_SPEECH_MODEL", "aura-asteria-en"),
		SpeechEncoding:       envOr("PARLEY_SPEECH_ENCODING", "linear16"),
		SpeechSampleRate:     envIntOr("PARLEY_SPEECH_SAMPLE_RATE", 16000),
		BillingURL:           envOr("PARLEY_BILLING_URL", ""),
		BillingSecret:        envOr("PARLEY_BILLING_SECRET", ""),
		BillingToken:         envOr("PARLEY_BILLING_TOKEN", ""),
		MediaDir:             envOr("PARLEY_MEDIA_DIR", "./media"),
		StreamBufferFrames:   envIntOr("PARLEY_STREAM_BUFFER_FRAMES", 64),
		MaxBodyBytes:         envInt64Or("PARLEY_MAX_BODY_BYTES", 32<<20), // 32 MiB, voice uploads
		ModelPrices:          make(map[string]float64),
		ReadHeaderTimeout:    envDurationOr("PARLEY_READ_HEADER_TIMEOUT", 10*time.Second),
		TurnTimeout:          envDurationOr("PARLEY_TURN_TIMEOUT", 5*time.Minute),
		ShutdownGracePeriod:  envDurationOr("PARLEY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("PARLEY_DATABASE_URL must be set")
	}
	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("PARLEY_AUTH_SECRET must be set")
	}
	if cfg.OpenAIKey == "" {
		return Config{}, fmt.Errorf("PARLEY_OPENAI_API_KEY must be set")
	}
	if cfg.SpeechKey == "" {
		return Config{}, fmt.Errorf("PARLEY_SPEECH_API_KEY must be set")
	}
	if cfg.BillingURL == "" {
		return Config{}, fmt.Errorf("PARLEY_BILLING_URL must be set")
	}
	if cfg.BillingSecret == "" {
		return Config{}, fmt.Errorf("PARLEY_BILLING_SECRET must be set")
	}
	if cfg.MediaDir == "" {
		return Config{}, fmt.Errorf("PARLEY_MEDIA_DIR must not be empty")
	}
	if cfg.StreamBufferFrames <= 0 {
		return Config{}, fmt.Errorf("PARLEY_STREAM_BUFFER_FRAMES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.SpeechSampleRate <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SPEECH_SAMPLE_RATE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_TURN_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	for _, pair := range splitCSV(os.Getenv("PARLEY_MODEL_PRICES")) {
		model, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return Config{}, fmt.Errorf("PARLEY_MODEL_PRICES entry %q must be model=price", pair)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || price < 0 {
			return Config{}, fmt.Errorf("PARLEY_MODEL_PRICES entry %q has an invalid price", pair)
		}
		cfg.ModelPrices[strings.TrimSpace(model)] = price
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
