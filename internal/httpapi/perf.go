package httpapi

import (
	"net/http"

	"github.com/pitchroom/pitchroom/internal/observability"
)

func (s *Server) handlePerfIntake(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.IntakeLatency{Stages: []observability.LatencyStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.IntakeLatency())
}
