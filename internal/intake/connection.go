package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/logging"
	"github.com/pitchroom/pitchroom/internal/media"
	"github.com/pitchroom/pitchroom/internal/observability"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/protocol"
	"github.com/pitchroom/pitchroom/internal/reliability"
	"github.com/pitchroom/pitchroom/internal/session"
)

// RunnerConfig holds what every connection's orchestrator shares.
type RunnerConfig struct {
	Sessions *session.Manager
	Status   pitch.StatusChecker
	Metrics  *observability.Metrics
	Backoff  reliability.Backoff
	Timings  Timings
	Clock    Clock
	Logger   *zap.Logger
}

// Runner drives one intake orchestrator per WebSocket connection. The browser
// is the microphone provider: permission requests and releases travel over
// the socket.
type Runner struct {
	cfg    RunnerConfig
	logger *zap.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Runner{cfg: cfg, logger: logger}
}

// RunConnection serves s until ctx is cancelled, inbound is closed or stop is
// closed. On return the orchestrator is torn down; when stop triggered the
// return, the teardown messages are queued on outbound first.
func (r *Runner) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any, stop <-chan struct{}) error {
	mode, ok := ParseMode(s.Mode)
	if !ok {
		return fmt.Errorf("intake: session %s has unknown mode %q", s.ID, s.Mode)
	}
	logger := r.logger.With(zap.String("session_id", s.ID))
	out := &outbox{ctx: ctx, ch: outbound, metrics: r.cfg.Metrics}

	conn := &connection{
		runner:    r,
		sessionID: s.ID,
		mode:      mode,
		out:       out,
		logger:    logger,
	}

	var gate *media.Gate
	if mode == ModeMicrophone {
		conn.provider = newRemoteProvider(s.ID, out, r.cfg.Metrics, logger)
		gate = media.NewGate(conn.provider, logger)
		gate.OnChange(conn.permissionChanged)
	}

	orch, err := New(Config{
		SessionID: s.ID,
		Mode:      mode,
		Persona:   s.Persona,
		PitchID:   s.PitchID,
		Gate:      gate,
		Status:    r.cfg.Status,
		Backoff:   r.cfg.Backoff,
		Navigator: conn,
		Observer:  conn,
		Clock:     r.cfg.Clock,
		Timings:   r.cfg.Timings,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveSessions.Inc()
		defer r.cfg.Metrics.ActiveSessions.Dec()
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("intake teardown", zap.Error(err))
		}
	}()

	out.send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: s.ID,
		Code:      "session_ready",
		Detail:    string(mode),
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			if err := orch.Close(); err != nil {
				logger.Warn("intake teardown", zap.Error(err))
			}
			out.send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "session_ended"})
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			conn.dispatch(orch, msg)
			if r.cfg.Sessions != nil {
				_ = r.cfg.Sessions.Touch(s.ID)
			}
		}
	}
}

type connection struct {
	runner    *Runner
	sessionID string
	mode      Mode
	out       *outbox
	provider  *remoteProvider
	logger    *zap.Logger

	// Guarded by the orchestrator's lock: only Observer and Navigator
	// callbacks touch these.
	startedAt  time.Time
	resolvedAt time.Time

	promptMu    sync.Mutex
	promptStart time.Time
}

func (c *connection) dispatch(orch *Orchestrator, msg any) {
	var handled bool
	var kind protocol.MessageType
	switch m := msg.(type) {
	case protocol.PermissionResult:
		kind = m.Type
		if c.provider != nil {
			handled = c.provider.deliver(m)
		}
	case protocol.ClientSignal:
		kind = m.Type
		switch m.Type {
		case protocol.TypeTunnelReady:
			handled = orch.TunnelReady()
		case protocol.TypeEnableMicrophone:
			handled = orch.EnableMicrophone()
		case protocol.TypeRetryProcessing:
			handled = orch.RetryProcessing()
		case protocol.TypeSkip:
			handled = orch.Skip()
		case protocol.TypeTunnelComplete:
			handled = orch.TunnelComplete()
		}
	default:
		c.logger.Debug("unexpected inbound message", zap.String("go_type", fmt.Sprintf("%T", msg)))
		return
	}
	if !handled {
		c.logger.Debug("signal had no effect", zap.String("type", string(kind)))
	}
}

func (c *connection) StateChanged(t Transition) {
	m := c.runner.cfg.Metrics
	if m != nil {
		m.IntakeTransitions.WithLabelValues(string(t.To)).Inc()
	}
	switch {
	case t.From == StateIdle && (t.To == StateAwaitingPermission || t.To == StateAwaitingReadiness):
		c.startedAt = t.At
	case t.To == StatePermissionResolved:
		c.resolvedAt = t.At
		if m != nil && c.mode == ModeUpload && !c.startedAt.IsZero() {
			m.ObserveStage(string(c.mode), observability.StageUploadToReady, t.At.Sub(c.startedAt))
		}
	}
	if s := c.runner.cfg.Sessions; s != nil {
		_ = s.SetIntakeState(c.sessionID, string(t.To))
	}
	c.out.send(protocol.StateChanged{
		Type:      protocol.TypeStateChanged,
		SessionID: c.sessionID,
		From:      string(t.From),
		To:        string(t.To),
		TSMs:      t.At.UnixMilli(),
	})
}

func (c *connection) Narrate(b Beat) {
	c.out.send(protocol.Narration{
		Type:      protocol.TypeNarration,
		SessionID: c.sessionID,
		Title:     b.Title,
		Sub:       b.Sub,
		Icon:      string(b.Icon),
		Action:    string(b.Action),
	})
}

func (c *connection) Navigate(route Route) error {
	now := c.runner.cfg.Clock.Now()
	if m := c.runner.cfg.Metrics; m != nil {
		m.Navigations.WithLabelValues(string(c.mode)).Inc()
		if !c.resolvedAt.IsZero() {
			m.ObserveStage(string(c.mode), observability.StageGrantToRoute, now.Sub(c.resolvedAt))
		}
		if !c.startedAt.IsZero() {
			m.ObserveStage(string(c.mode), observability.StageIntakeTotal, now.Sub(c.startedAt))
		}
	}
	if s := c.runner.cfg.Sessions; s != nil {
		_ = s.SetRoute(c.sessionID, route.String())
	}
	if !c.out.send(protocol.Navigate{Type: protocol.TypeNavigate, SessionID: c.sessionID, Route: route.String()}) {
		return errDisconnected
	}
	return nil
}

func (c *connection) permissionChanged(state media.PermissionState) {
	m := c.runner.cfg.Metrics
	c.promptMu.Lock()
	defer c.promptMu.Unlock()
	switch state {
	case media.PermissionRequesting:
		c.promptStart = time.Now()
	case media.PermissionGranted, media.PermissionDenied:
		if m == nil {
			return
		}
		m.MediaEvents.WithLabelValues(string(state)).Inc()
		if !c.promptStart.IsZero() {
			m.ObserveStage(string(c.mode), observability.StagePermissionPrompt, time.Since(c.promptStart))
		}
		if state == media.PermissionDenied {
			m.CountOutcome(string(c.mode), "permission_denied")
		}
	}
}

var errDisconnected = errors.New("intake: client disconnected")

// outbox serializes sends to the connection's writer.
type outbox struct {
	ctx     context.Context
	ch      chan<- any
	metrics *observability.Metrics
}

func (o *outbox) send(msg any) bool {
	select {
	case o.ch <- msg:
		return true
	case <-o.ctx.Done():
		if o.metrics != nil {
			if t, ok := protocol.TypeOf(msg); ok {
				o.metrics.WSMessages.WithLabelValues("dropped", string(t)).Inc()
			}
		}
		return false
	}
}

// remoteProvider asks the browser for the microphone over the socket.
type remoteProvider struct {
	sessionID string
	out       *outbox
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]chan protocol.PermissionResult
}

func newRemoteProvider(sessionID string, out *outbox, metrics *observability.Metrics, logger *zap.Logger) *remoteProvider {
	return &remoteProvider{
		sessionID: sessionID,
		out:       out,
		metrics:   metrics,
		logger:    logger,
		pending:   make(map[string]chan protocol.PermissionResult),
	}
}

func (p *remoteProvider) Acquire(ctx context.Context) (media.Handle, error) {
	id := uuid.NewString()
	ch := make(chan protocol.PermissionResult, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if !p.out.send(protocol.PermissionRequest{Type: protocol.TypePermissionRequest, SessionID: p.sessionID, RequestID: id}) {
		return nil, errDisconnected
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !res.Granted {
			reason := strings.TrimSpace(res.Reason)
			if reason == "" {
				reason = "prompt dismissed"
			}
			return nil, errors.New(logging.Redact(reason))
		}
		return &remoteHandle{provider: p, requestID: id}, nil
	}
}

// deliver routes a permission_result to the matching pending request.
func (p *remoteProvider) deliver(res protocol.PermissionResult) bool {
	p.mu.Lock()
	ch, ok := p.pending[res.RequestID]
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("stale permission result", zap.String("request_id", res.RequestID))
		return false
	}
	select {
	case ch <- res:
		return true
	default:
		return false
	}
}

type remoteHandle struct {
	provider  *remoteProvider
	requestID string
}

func (h *remoteHandle) Release() error {
	p := h.provider
	if p.metrics != nil {
		p.metrics.MediaEvents.WithLabelValues("released").Inc()
	}
	if !p.out.send(protocol.MediaRelease{Type: protocol.TypeMediaRelease, SessionID: p.sessionID, RequestID: h.requestID}) {
		return errDisconnected
	}
	return nil
}
