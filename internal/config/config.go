package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the pitch intake service and CLI.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	PitchAPIURL            string
	PitchUseMock           bool
	PitchAcceptedMediaType string
	PitchMaxUploadBytes    int64
	PitchReadyAfterPolls   int
	PitchMockUploadLatency time.Duration
	PitchMockPollLatency   time.Duration
	PitchPollInterval      time.Duration
	PitchPollMaxInterval   time.Duration

	AuthTokenTemplate string
	AuthSigningKey    string
	AuthToken         string

	IntakeIntroDelay        time.Duration
	IntakeBeatDelays        [3]time.Duration
	IntakeAnticipationDelay time.Duration

	DatabaseURL string

	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool

	PersonaCatalogPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "pitchroom"),
		LogLevel:               strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		AllowAnyOrigin:         false,
		PitchAPIURL:            strings.TrimRight(envOrDefault("PITCH_API_URL", "http://localhost:8000"), "/"),
		PitchAcceptedMediaType: envOrDefault("PITCH_ACCEPTED_MEDIA_TYPE", "application/pdf"),
		PitchMaxUploadBytes:    20 * 1024 * 1024,
		PitchReadyAfterPolls:   3,
		PitchMockUploadLatency: 300 * time.Millisecond,
		PitchMockPollLatency:   250 * time.Millisecond,
		PitchPollInterval:      500 * time.Millisecond,
		PitchPollMaxInterval:   4 * time.Second,
		// The token provider issues tokens per named template.
		AuthTokenTemplate:       envOrDefault("AUTH_TOKEN_TEMPLATE", "test"),
		AuthSigningKey:          stringsTrimSpace("AUTH_SIGNING_KEY"),
		AuthToken:               stringsTrimSpace("AUTH_TOKEN"),
		IntakeIntroDelay:        600 * time.Millisecond,
		IntakeBeatDelays:        [3]time.Duration{450 * time.Millisecond, 550 * time.Millisecond, 550 * time.Millisecond},
		IntakeAnticipationDelay: 1100 * time.Millisecond,
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		ObjectStoreEndpoint:     stringsTrimSpace("OBJECT_STORE_ENDPOINT"),
		ObjectStoreAccessKey:    stringsTrimSpace("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey:    stringsTrimSpace("OBJECT_STORE_SECRET_KEY"),
		ObjectStoreBucket:       envOrDefault("OBJECT_STORE_BUCKET", "pitches"),
		PersonaCatalogPath:      stringsTrimSpace("PERSONA_CATALOG_PATH"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.PitchUseMock, err = boolFromEnv("PITCH_USE_MOCK", cfg.PitchUseMock)
	if err != nil {
		return Config{}, err
	}
	maxBytes, err := intFromEnv("PITCH_MAX_UPLOAD_BYTES", int(cfg.PitchMaxUploadBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.PitchMaxUploadBytes = int64(maxBytes)
	cfg.PitchReadyAfterPolls, err = intFromEnv("PITCH_READY_AFTER_POLLS", cfg.PitchReadyAfterPolls)
	if err != nil {
		return Config{}, err
	}
	cfg.PitchMockUploadLatency, err = durationFromEnv("PITCH_MOCK_UPLOAD_LATENCY", cfg.PitchMockUploadLatency)
	if err != nil {
		return Config{}, err
	}
	cfg.PitchMockPollLatency, err = durationFromEnv("PITCH_MOCK_POLL_LATENCY", cfg.PitchMockPollLatency)
	if err != nil {
		return Config{}, err
	}
	cfg.PitchPollInterval, err = durationFromEnv("PITCH_POLL_INTERVAL", cfg.PitchPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PitchPollMaxInterval, err = durationFromEnv("PITCH_POLL_MAX_INTERVAL", cfg.PitchPollMaxInterval)
	if err != nil {
		return Config{}, err
	}

	cfg.IntakeIntroDelay, err = durationFromEnv("INTAKE_INTRO_DELAY", cfg.IntakeIntroDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.IntakeBeatDelays, err = beatsFromEnv("INTAKE_BEAT_DELAYS", cfg.IntakeBeatDelays)
	if err != nil {
		return Config{}, err
	}
	cfg.IntakeAnticipationDelay, err = durationFromEnv("INTAKE_ANTICIPATION_DELAY", cfg.IntakeAnticipationDelay)
	if err != nil {
		return Config{}, err
	}

	cfg.ObjectStoreUseSSL, err = boolFromEnv("OBJECT_STORE_USE_SSL", cfg.ObjectStoreUseSSL)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if u, err := url.Parse(cfg.PitchAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("PITCH_API_URL must be an absolute URL")
	}
	if cfg.PitchAcceptedMediaType == "" {
		return Config{}, fmt.Errorf("PITCH_ACCEPTED_MEDIA_TYPE must not be empty")
	}
	if cfg.PitchMaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("PITCH_MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.PitchReadyAfterPolls <= 0 {
		return Config{}, fmt.Errorf("PITCH_READY_AFTER_POLLS must be positive")
	}
	if cfg.PitchPollInterval <= 0 {
		return Config{}, fmt.Errorf("PITCH_POLL_INTERVAL must be positive")
	}
	if cfg.PitchPollMaxInterval < cfg.PitchPollInterval {
		return Config{}, fmt.Errorf("PITCH_POLL_MAX_INTERVAL must be >= PITCH_POLL_INTERVAL")
	}
	if cfg.IntakeIntroDelay < 0 || cfg.IntakeAnticipationDelay < 0 {
		return Config{}, fmt.Errorf("intake delays must not be negative")
	}
	for _, d := range cfg.IntakeBeatDelays {
		if d < 0 {
			return Config{}, fmt.Errorf("INTAKE_BEAT_DELAYS must not be negative")
		}
	}
	if cfg.ObjectStoreEndpoint != "" && (cfg.ObjectStoreAccessKey == "" || cfg.ObjectStoreSecretKey == "") {
		return Config{}, fmt.Errorf("OBJECT_STORE_ACCESS_KEY and OBJECT_STORE_SECRET_KEY are required with OBJECT_STORE_ENDPOINT")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

// beatsFromEnv parses a comma-separated list of exactly three durations.
func beatsFromEnv(key string, fallback [3]time.Duration) ([3]time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != len(fallback) {
		return fallback, fmt.Errorf("%s parse error: want %d durations, got %d", key, len(fallback), len(parts))
	}
	var out [3]time.Duration
	for i, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return fallback, fmt.Errorf("%s parse error: %w", key, err)
		}
		out[i] = d
	}
	return out, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
