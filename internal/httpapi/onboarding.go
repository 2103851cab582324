package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pitchroom/pitchroom/internal/pitchsvc"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	PitchMode      string            `json:"pitch_mode"`
	PersonaCount   int               `json:"persona_count"`
	DefaultPersona string            `json:"default_persona"`
	Checks         []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	mode := s.pitchMode()
	checks := make([]onboardingCheck, 0, 8)

	switch mode {
	case pitchsvc.ModeMock:
		checks = append(checks, onboardingCheck{
			ID:     "pitch_backend",
			Status: "warn",
			Label:  "Pitch backend",
			Detail: fmt.Sprintf("mock (ready after %d polls)", s.cfg.PitchReadyAfterPolls),
			Fix:    "Set PITCH_USE_MOCK=false to persist uploaded decks.",
		})
	case pitchsvc.ModeStored:
		checks = append(checks, onboardingCheck{
			ID:     "pitch_backend",
			Status: "ok",
			Label:  "Pitch backend",
			Detail: "stored",
		})
		checks = append(checks, s.storageChecks()...)
	default:
		checks = append(checks, onboardingCheck{
			ID:     "pitch_backend",
			Status: "error",
			Label:  "Pitch backend",
			Detail: "not configured",
		})
	}

	if s.pitches != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.pitches.Ping(ctx)
		cancel()
		if err != nil {
			checks = append(checks, onboardingCheck{
				ID:     "pitch_backend_reachable",
				Status: "error",
				Label:  "Pitch backend reachable",
				Detail: err.Error(),
				Fix:    "Check DATABASE_URL and OBJECT_STORE_ENDPOINT.",
			})
		} else {
			checks = append(checks, onboardingCheck{
				ID:     "pitch_backend_reachable",
				Status: "ok",
				Label:  "Pitch backend reachable",
			})
		}
	}

	if strings.TrimSpace(s.cfg.AuthSigningKey) == "" {
		checks = append(checks, onboardingCheck{
			ID:     "auth_signing_key",
			Status: "warn",
			Label:  "Token verification",
			Detail: "any non-empty bearer token is accepted",
			Fix:    "Set AUTH_SIGNING_KEY to verify HS256 tokens.",
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "auth_signing_key",
			Status: "ok",
			Label:  "Token verification",
			Detail: "HS256, template " + s.cfg.AuthTokenTemplate,
		})
	}

	personas := s.personas.List()
	personaCheck := onboardingCheck{
		ID:     "personas",
		Status: "ok",
		Label:  "Persona catalog",
		Detail: fmt.Sprintf("%d personas, default %s", len(personas), s.personas.DefaultKey()),
	}
	if strings.TrimSpace(s.cfg.PersonaCatalogPath) != "" {
		personaCheck.Detail += " (" + s.cfg.PersonaCatalogPath + ")"
	}
	checks = append(checks, personaCheck)

	if s.cfg.AllowAnyOrigin {
		checks = append(checks, onboardingCheck{
			ID:     "origin",
			Status: "warn",
			Label:  "WebSocket origin",
			Detail: "any origin may open intake sessions",
			Fix:    "Unset APP_ALLOW_ANY_ORIGIN outside local development.",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		PitchMode:      mode,
		PersonaCount:   len(personas),
		DefaultPersona: s.personas.DefaultKey(),
		Checks:         checks,
	})
}

func (s *Server) storageChecks() []onboardingCheck {
	out := make([]onboardingCheck, 0, 2)
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		out = append(out, onboardingCheck{
			ID:     "pitch_store",
			Status: "warn",
			Label:  "Pitch persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist pitch records across restarts.",
		})
	} else {
		out = append(out, onboardingCheck{
			ID:     "pitch_store",
			Status: "ok",
			Label:  "Pitch persistence",
			Detail: "postgres",
		})
	}
	if strings.TrimSpace(s.cfg.ObjectStoreEndpoint) == "" {
		out = append(out, onboardingCheck{
			ID:     "object_store",
			Status: "warn",
			Label:  "Deck storage",
			Detail: "in-memory only",
			Fix:    "Set OBJECT_STORE_ENDPOINT to keep uploaded decks in S3-compatible storage.",
		})
	} else {
		out = append(out, onboardingCheck{
			ID:     "object_store",
			Status: "ok",
			Label:  "Deck storage",
			Detail: s.cfg.ObjectStoreEndpoint + "/" + s.cfg.ObjectStoreBucket,
		})
	}
	return out
}
