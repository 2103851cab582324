package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/auth"
	"github.com/pitchroom/pitchroom/internal/blob"
	"github.com/pitchroom/pitchroom/internal/config"
	"github.com/pitchroom/pitchroom/internal/httpapi"
	"github.com/pitchroom/pitchroom/internal/intake"
	"github.com/pitchroom/pitchroom/internal/observability"
	"github.com/pitchroom/pitchroom/internal/persona"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/pitchsvc"
	"github.com/pitchroom/pitchroom/internal/reliability"
	"github.com/pitchroom/pitchroom/internal/session"
	"github.com/pitchroom/pitchroom/internal/store"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Runner   *intake.Runner
	Pitches  pitchsvc.Service
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	personas, err := LoadPersonas(cfg)
	if err != nil {
		return nil, err
	}

	pitches, closeStore, err := buildPitchService(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	runner := intake.NewRunner(intake.RunnerConfig{
		Sessions: sessions,
		Status:   pitches,
		Metrics:  metrics,
		Backoff:  PollBackoff(cfg),
		Timings:  Timings(cfg),
		Logger:   logger.Named("intake"),
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Runner:   runner,
		Pitches:  pitches,
		Personas: personas,
		Verifier: verifier,
		Metrics:  metrics,
		Logger:   logger.Named("http"),
	})

	sessions.SetExpireHook(api.SessionExpired)

	logger.Info("pitch backend ready",
		zap.String("mode", pitches.Mode()),
		zap.Int("personas", len(personas.List())),
		zap.Bool("signed_tokens", cfg.AuthSigningKey != ""),
	)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Runner:   runner,
		Pitches:  pitches,
		Metrics:  metrics,
		Cleanup:  closeStore,
	}, nil
}

// LoadPersonas returns the configured catalog, or the embedded one when no
// path is set.
func LoadPersonas(cfg config.Config) (*persona.Catalog, error) {
	if strings.TrimSpace(cfg.PersonaCatalogPath) == "" {
		return persona.Default(), nil
	}
	c, err := persona.Load(cfg.PersonaCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("persona catalog init failed: %w", err)
	}
	return c, nil
}

// Constraints is the upload policy shared by the client and the service.
func Constraints(cfg config.Config) pitch.Constraints {
	return pitch.Constraints{
		MediaType: cfg.PitchAcceptedMediaType,
		MaxBytes:  cfg.PitchMaxUploadBytes,
	}
}

func PollBackoff(cfg config.Config) reliability.Backoff {
	return reliability.Backoff{Base: cfg.PitchPollInterval, Cap: cfg.PitchPollMaxInterval}
}

func Timings(cfg config.Config) intake.Timings {
	return intake.Timings{
		Intro:        cfg.IntakeIntroDelay,
		Beats:        cfg.IntakeBeatDelays,
		Anticipation: cfg.IntakeAnticipationDelay,
	}
}

// NewMockPitchClient returns the in-process pitch client configured with the
// mock latencies.
func NewMockPitchClient(cfg config.Config, logger *zap.Logger) *pitch.MockClient {
	return pitch.NewMockClient(pitch.MockConfig{
		Constraints:   Constraints(cfg),
		Tracker:       pitch.NewTracker(cfg.PitchReadyAfterPolls),
		UploadLatency: cfg.PitchMockUploadLatency,
		PollLatency:   cfg.PitchMockPollLatency,
		Logger:        logger,
	})
}

// NewPitchClient returns the client a caller of the pitch API uses: the mock
// when PITCH_USE_MOCK is set, otherwise HTTP against PITCH_API_URL.
func NewPitchClient(cfg config.Config, logger *zap.Logger) (pitch.Client, error) {
	if cfg.PitchUseMock {
		return NewMockPitchClient(cfg, logger), nil
	}
	return pitch.NewHTTPClient(pitch.HTTPConfig{
		BaseURL:     cfg.PitchAPIURL,
		Constraints: Constraints(cfg),
		Logger:      logger,
	})
}

// NewTokenSource prefers a pre-issued AUTH_TOKEN and falls back to minting a
// token for subject when a signing key is configured.
func NewTokenSource(cfg config.Config, subject string) (auth.TokenSource, error) {
	if cfg.AuthToken != "" {
		return auth.StaticTokenSource(cfg.AuthToken), nil
	}
	if cfg.AuthSigningKey == "" {
		return auth.StaticTokenSource(""), nil
	}
	return auth.NewSigner(cfg.AuthSigningKey, subject, 0)
}

func buildPitchService(ctx context.Context, cfg config.Config, logger *zap.Logger) (pitchsvc.Service, func() error, error) {
	noop := func() error { return nil }
	if cfg.PitchUseMock {
		client := NewMockPitchClient(cfg, logger.Named("pitch"))
		return pitchsvc.NewMockService(client, Constraints(cfg)), noop, nil
	}

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pitch store init failed: %w", err)
	}
	blobs, err := blob.New(ctx, blob.Options{
		Endpoint:  cfg.ObjectStoreEndpoint,
		AccessKey: cfg.ObjectStoreAccessKey,
		SecretKey: cfg.ObjectStoreSecretKey,
		Bucket:    cfg.ObjectStoreBucket,
		UseSSL:    cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("object store init failed: %w", err)
	}
	svc, err := pitchsvc.NewStoredService(pitchsvc.StoredConfig{
		Store:       st,
		Blobs:       blobs,
		Constraints: Constraints(cfg),
		ReadyAfter:  cfg.PitchReadyAfterPolls,
		Logger:      logger.Named("pitch"),
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return svc, st.Close, nil
}

func buildVerifier(cfg config.Config) (auth.Verifier, error) {
	if cfg.AuthSigningKey == "" {
		return auth.PresenceVerifier{}, nil
	}
	v, err := auth.NewHMACVerifier(cfg.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("token verifier init failed: %w", err)
	}
	return v, nil
}
