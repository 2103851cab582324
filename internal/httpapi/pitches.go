package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/auth"
	"github.com/pitchroom/pitchroom/internal/logging"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/pitchsvc"
)

// multipartOverhead is the slack allowed on top of the deck ceiling for the
// multipart envelope and the persona field.
const multipartOverhead = 1 << 20

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default":  s.personas.DefaultKey(),
		"personas": s.personas.List(),
	})
}

func (s *Server) handleSubmitPitch(w http.ResponseWriter, r *http.Request) {
	if s.pitches == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pitch backend not configured")
		return
	}
	cons := s.pitches.Constraints()

	// A body past the ceiling is refused while parsing, before the part's
	// media type is read, so an oversized non-PDF answers 413 rather than 415.
	r.Body = http.MaxBytesReader(w, r.Body, cons.MaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writePitchError(w, pitch.ErrPayloadTooLarge)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	upload := pitch.Upload{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Size:      header.Size,
		Body:      file,
	}

	token := auth.BearerToken(r.Header.Get("Authorization"))
	claims, err := s.verifier.Verify(token)
	if err != nil {
		token = ""
	}
	if err := pitch.Validate(upload, token, cons); err != nil {
		s.metrics.Uploads.WithLabelValues(outcomeOf(err)).Inc()
		s.writePitchError(w, err)
		return
	}

	personaKey, err := s.personas.Resolve(r.FormValue("persona"))
	if err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusBadRequest, "unknown_persona", err.Error())
		return
	}

	receipt, err := s.pitches.Submit(r.Context(), pitchsvc.SubmitRequest{
		UserID:  claims.Subject,
		Persona: personaKey,
		Token:   token,
		Upload:  upload,
	})
	if err != nil {
		s.metrics.Uploads.WithLabelValues(outcomeOf(err)).Inc()
		s.logger.Warn("pitch submit failed", zap.String("filename", logging.Redact(header.Filename)), zap.Error(err))
		s.writePitchError(w, err)
		return
	}
	s.metrics.Uploads.WithLabelValues("accepted").Inc()
	respondJSON(w, http.StatusOK, receipt)
}

func (s *Server) handlePitchStatus(w http.ResponseWriter, r *http.Request) {
	if s.pitches == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pitch backend not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	report, err := s.pitches.Poll(r.Context(), id)
	if err != nil {
		s.metrics.Polls.WithLabelValues("failed").Inc()
		s.writePitchError(w, err)
		return
	}
	s.metrics.Polls.WithLabelValues(string(report.Status)).Inc()
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetPitch(w http.ResponseWriter, r *http.Request) {
	if s.pitches == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pitch backend not configured")
		return
	}
	detail, err := s.pitches.Describe(r.Context(), strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		s.writePitchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) writePitchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pitch.ErrInvalidMediaType):
		respondError(w, http.StatusUnsupportedMediaType, "invalid_media_type", pitch.UserMessage(err))
	case errors.Is(err, pitch.ErrPayloadTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", pitch.UserMessage(err))
	case errors.Is(err, pitch.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated", pitch.UserMessage(err))
	case errors.Is(err, pitch.ErrNotFound):
		respondError(w, http.StatusNotFound, "pitch_not_found", "Pitch not found.")
	case errors.Is(err, pitchsvc.ErrUnsupported):
		respondError(w, http.StatusNotImplemented, "unsupported", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", pitch.UserMessage(err))
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, pitch.ErrInvalidMediaType):
		return "invalid_media_type"
	case errors.Is(err, pitch.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, pitch.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "failed"
	}
}
