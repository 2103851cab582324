package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want :8000", cfg.BindAddr)
	}
	if cfg.PitchAPIURL != "http://localhost:8000" {
		t.Fatalf("PitchAPIURL = %q, want local default", cfg.PitchAPIURL)
	}
	if cfg.PitchMaxUploadBytes != 20*1024*1024 {
		t.Fatalf("PitchMaxUploadBytes = %d, want 20 MiB", cfg.PitchMaxUploadBytes)
	}
	if cfg.PitchAcceptedMediaType != "application/pdf" {
		t.Fatalf("PitchAcceptedMediaType = %q", cfg.PitchAcceptedMediaType)
	}
	if cfg.AuthTokenTemplate != "test" {
		t.Fatalf("AuthTokenTemplate = %q, want %q", cfg.AuthTokenTemplate, "test")
	}
	if cfg.PitchUseMock {
		t.Fatalf("PitchUseMock = true, want false by default")
	}
	want := [3]time.Duration{450 * time.Millisecond, 550 * time.Millisecond, 550 * time.Millisecond}
	if cfg.IntakeBeatDelays != want {
		t.Fatalf("IntakeBeatDelays = %v, want %v", cfg.IntakeBeatDelays, want)
	}
	if cfg.IntakeIntroDelay != 600*time.Millisecond || cfg.IntakeAnticipationDelay != 1100*time.Millisecond {
		t.Fatalf("intake delays = %v/%v", cfg.IntakeIntroDelay, cfg.IntakeAnticipationDelay)
	}
	if cfg.ObjectStoreBucket != "pitches" {
		t.Fatalf("ObjectStoreBucket = %q", cfg.ObjectStoreBucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("PITCH_API_URL", "https://api.example.com/")
	t.Setenv("PITCH_USE_MOCK", "yes")
	t.Setenv("PITCH_MAX_UPLOAD_BYTES", "1024")
	t.Setenv("INTAKE_BEAT_DELAYS", "10ms, 20ms,30ms")
	t.Setenv("APP_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PitchAPIURL != "https://api.example.com" {
		t.Fatalf("PitchAPIURL = %q, want trailing slash trimmed", cfg.PitchAPIURL)
	}
	if !cfg.PitchUseMock {
		t.Fatalf("PitchUseMock = false, want true")
	}
	if cfg.PitchMaxUploadBytes != 1024 {
		t.Fatalf("PitchMaxUploadBytes = %d, want 1024", cfg.PitchMaxUploadBytes)
	}
	if cfg.IntakeBeatDelays[2] != 30*time.Millisecond {
		t.Fatalf("IntakeBeatDelays = %v", cfg.IntakeBeatDelays)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"APP_LOG_LEVEL":                  "verbose",
		"PITCH_API_URL":                  "localhost",
		"PITCH_MAX_UPLOAD_BYTES":         "0",
		"PITCH_POLL_MAX_INTERVAL":        "100ms",
		"INTAKE_BEAT_DELAYS":             "1s,2s",
		"INTAKE_INTRO_DELAY":             "soon",
		"PITCH_USE_MOCK":                 "maybe",
		"OBJECT_STORE_ENDPOINT":          "localhost:9000",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"PITCH_API_URL",
		"PITCH_USE_MOCK",
		"PITCH_ACCEPTED_MEDIA_TYPE",
		"PITCH_MAX_UPLOAD_BYTES",
		"PITCH_READY_AFTER_POLLS",
		"PITCH_MOCK_UPLOAD_LATENCY",
		"PITCH_MOCK_POLL_LATENCY",
		"PITCH_POLL_INTERVAL",
		"PITCH_POLL_MAX_INTERVAL",
		"AUTH_TOKEN_TEMPLATE",
		"AUTH_SIGNING_KEY",
		"AUTH_TOKEN",
		"INTAKE_INTRO_DELAY",
		"INTAKE_BEAT_DELAYS",
		"INTAKE_ANTICIPATION_DELAY",
		"DATABASE_URL",
		"OBJECT_STORE_ENDPOINT",
		"OBJECT_STORE_ACCESS_KEY",
		"OBJECT_STORE_SECRET_KEY",
		"OBJECT_STORE_BUCKET",
		"OBJECT_STORE_USE_SSL",
		"PERSONA_CATALOG_PATH",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
