package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/auth"
	"github.com/pitchroom/pitchroom/internal/config"
	"github.com/pitchroom/pitchroom/internal/intake"
	"github.com/pitchroom/pitchroom/internal/observability"
	"github.com/pitchroom/pitchroom/internal/persona"
	"github.com/pitchroom/pitchroom/internal/pitchsvc"
	"github.com/pitchroom/pitchroom/internal/protocol"
	"github.com/pitchroom/pitchroom/internal/session"
)

// IntakeRunner drives one intake orchestrator over a WebSocket connection.
type IntakeRunner interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any, stop <-chan struct{}) error
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Sessions *session.Manager
	Runner   IntakeRunner
	Pitches  pitchsvc.Service
	Personas *persona.Catalog
	Verifier auth.Verifier
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	runner   IntakeRunner
	pitches  pitchsvc.Service
	personas *persona.Catalog
	verifier auth.Verifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	liveMu sync.Mutex
	live   map[string]*liveConn
}

type liveConn struct {
	stop chan struct{}
	once sync.Once
}

func (c *liveConn) close() {
	c.once.Do(func() { close(c.stop) })
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	personas := deps.Personas
	if personas == nil {
		personas = persona.Default()
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.PresenceVerifier{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		runner:   deps.Runner,
		pitches:  deps.Pitches,
		personas: personas,
		verifier: verifier,
		metrics:  metrics,
		logger:   logger,
		live:     make(map[string]*liveConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/intake", s.handlePerfIntake)

	r.Get("/api/personas", s.handleListPersonas)
	r.Post("/api/pitches", s.handleSubmitPitch)
	r.Get("/api/pitches/{id}", s.handleGetPitch)
	r.Get("/api/pitches/{id}/status", s.handlePitchStatus)

	r.Post("/v1/intake/session", s.handleCreateSession)
	r.Get("/v1/intake/session/{id}", s.handleGetSession)
	r.Post("/v1/intake/session/{id}/end", s.handleEndSession)
	r.Get("/v1/intake/session/ws", s.handleSessionWS)

	return r
}

// SessionExpired tears down the live connection of a session the janitor
// ended.
func (s *Server) SessionExpired(sess *session.Session) {
	s.stopLive(sess.ID)
	s.metrics.SessionEvents.WithLabelValues("expired").Inc()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"pitch_mode": s.pitchMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pitches != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pitches.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"pitch_mode": s.pitchMode(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	personaKey, err := s.personas.Resolve(req.Persona)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_persona", err.Error())
		return
	}
	req.Persona = personaKey
	mode, ok := intake.ParseMode(strings.TrimSpace(req.Mode))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be microphone or upload")
		return
	}
	req.Mode = string(mode)
	req.PitchID = strings.TrimSpace(req.PitchID)
	if mode == intake.ModeUpload && req.PitchID == "" {
		respondError(w, http.StatusBadRequest, "missing_pitch_id", "upload mode requires pitch_id")
		return
	}

	sess, replaced := s.sessions.Create(req)
	if replaced != nil {
		s.stopLive(replaced.ID)
		s.metrics.SessionEvents.WithLabelValues("replaced").Inc()
	}
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.logger.Info("intake session created",
		zap.String("session_id", sess.ID),
		zap.String("persona", sess.Persona),
		zap.String("mode", sess.Mode),
	)

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Persona:         sess.Persona,
		Mode:            sess.Mode,
		PitchID:         sess.PitchID,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		WebSocketPath:   "/v1/intake/session/ws?session_id=" + url.QueryEscape(sess.ID),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.stopLive(id)
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "intake runner not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session is no longer active")
		return
	}
	live, ok := s.claimLive(sessionID)
	if !ok {
		respondError(w, http.StatusConflict, "session_connected", "session already has a live connection")
		return
	}
	defer s.releaseLive(sessionID, live)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer cancel()
		if err := s.runner.RunConnection(ctx, sess, inbound, outbound, live.stop); err != nil {
			s.logger.Warn("intake connection failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.WSMessages.WithLabelValues("write_error", "").Inc()
				return false
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				// Flush what the runner queued during teardown.
				for {
					select {
					case msg := <-outbound:
						if !write(msg) {
							return
						}
					default:
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
							time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
				}
			case msg := <-outbound:
				if !write(msg) {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.WSMessages.WithLabelValues("dropped", string(protocol.TypeErrorEvent)).Inc()
			}
			continue
		}

		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) claimLive(id string) (*liveConn, bool) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if _, busy := s.live[id]; busy {
		return nil, false
	}
	c := &liveConn{stop: make(chan struct{})}
	s.live[id] = c
	return c, true
}

func (s *Server) releaseLive(id string, c *liveConn) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.live[id] == c {
		delete(s.live, id)
	}
}

func (s *Server) stopLive(id string) {
	s.liveMu.Lock()
	c := s.live[id]
	s.liveMu.Unlock()
	if c != nil {
		c.close()
	}
}

func (s *Server) pitchMode() string {
	if s.pitches == nil {
		return "disabled"
	}
	return s.pitches.Mode()
}

// errorResponse matches the pitch API's error body so clients can surface
// detail verbatim.
type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Detail: message, Code: code})
}
