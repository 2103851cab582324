package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitchroom/pitchroom/internal/media"
	"github.com/pitchroom/pitchroom/internal/pitch"
	"github.com/pitchroom/pitchroom/internal/reliability"
)

// Config wires one orchestrator. Gate is required in microphone mode; Status
// and PitchID drive the upload mode.
type Config struct {
	SessionID string
	Mode      Mode
	Persona   string
	PitchID   string

	Gate      *media.Gate
	Status    pitch.StatusChecker
	Backoff   reliability.Backoff
	Navigator Navigator
	Observer  Observer
	Clock     Clock
	Timings   Timings
	Logger    *zap.Logger
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	SessionID  string                `json:"session_id"`
	Mode       Mode                  `json:"mode"`
	Persona    string                `json:"persona"`
	PitchID    string                `json:"pitch_id,omitempty"`
	State      State                 `json:"state"`
	Permission media.PermissionState `json:"permission"`
	DeckReady  bool                  `json:"deck_ready"`
	Navigated  bool                  `json:"navigated"`
	Route      string                `json:"route,omitempty"`
}

// Orchestrator is the per-session intake state machine. Every transition runs
// under mu, so signals, timer callbacks and async results share one timeline.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	alive      bool
	gen        uint64
	timers     map[uint64]Timer
	timerSeq   uint64
	permission media.PermissionState
	requesting bool
	polling    bool
	deckReady  bool
	introDone  bool
	tunnelUp   bool
	navigated  bool
	route      Route
}

var (
	ErrMissingGate   = errors.New("intake: microphone mode requires a media gate")
	ErrMissingStatus = errors.New("intake: upload mode requires a status checker")
	ErrMissingNav    = errors.New("intake: navigator is required")
)

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeMicrophone
	}
	switch cfg.Mode {
	case ModeMicrophone:
		if cfg.Gate == nil {
			return nil, ErrMissingGate
		}
	case ModeUpload:
		if cfg.Status == nil {
			return nil, ErrMissingStatus
		}
	default:
		return nil, fmt.Errorf("intake: unknown mode %q", cfg.Mode)
	}
	if cfg.Navigator == nil {
		return nil, ErrMissingNav
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	cfg.Persona = strings.TrimSpace(cfg.Persona)
	cfg.PitchID = strings.TrimSpace(cfg.PitchID)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", cfg.SessionID), zap.String("mode", string(cfg.Mode)))

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		alive:      true,
		timers:     make(map[uint64]Timer),
		permission: media.PermissionUnrequested,
	}, nil
}

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		SessionID:  o.cfg.SessionID,
		Mode:       o.cfg.Mode,
		Persona:    o.cfg.Persona,
		PitchID:    o.cfg.PitchID,
		State:      o.state,
		Permission: o.permission,
		DeckReady:  o.deckReady,
		Navigated:  o.navigated,
	}
	if o.navigated {
		s.Route = o.route.String()
	}
	return s
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TunnelReady is the presentation layer's one-shot "intro can play" signal.
// Only the first call has an effect; it reports whether this call did.
func (o *Orchestrator) TunnelReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive || o.tunnelUp {
		return false
	}
	o.tunnelUp = true

	switch o.cfg.Mode {
	case ModeUpload:
		o.transition(StateAwaitingReadiness)
	default:
		o.transition(StateAwaitingPermission)
	}
	o.narrate(beatCalling)
	o.schedule(o.cfg.Timings.Intro, o.afterIntro)
	return true
}

// EnableMicrophone is the user's "Enable microphone" action. It (re)starts
// the permission request while the session waits for one.
func (o *Orchestrator) EnableMicrophone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive || o.cfg.Mode != ModeMicrophone || o.state != StateAwaitingPermission {
		return false
	}
	return o.requestPermission()
}

// RetryProcessing restarts the readiness wait after a failed deck check.
func (o *Orchestrator) RetryProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive || o.cfg.Mode != ModeUpload || o.state != StateAwaitingReadiness || !o.introDone {
		return false
	}
	return o.startPolling()
}

// Skip is the user's explicit jump to the boardroom. It routes only when the
// gate condition already holds.
func (o *Orchestrator) Skip() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tryRoute("skip")
}

// TunnelComplete is the presentation layer's "animation finished" signal.
func (o *Orchestrator) TunnelComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tryRoute("tunnel_complete")
}

// Close tears the session down: pending timers are invalidated, in-flight
// permission or status requests are cancelled and the microphone is released.
// It waits for background requests to return. Safe to call more than once;
// must not be called from an Observer or Navigator.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		o.wg.Wait()
		return nil
	}
	o.alive = false
	o.stopTimers()
	if !o.state.Terminal() {
		o.transition(StateClosed)
	}
	o.cancel()
	o.mu.Unlock()

	var err error
	if o.cfg.Gate != nil {
		err = o.cfg.Gate.Close()
	}
	o.wg.Wait()
	return err
}

// afterIntro runs when the intro delay ends.
func (o *Orchestrator) afterIntro() {
	o.introDone = true
	switch o.cfg.Mode {
	case ModeUpload:
		if o.cfg.PitchID == "" {
			o.narrate(beatNoDeck)
			return
		}
		o.narrate(beatReviewing)
		o.startPolling()
	default:
		// The user may have answered during the intro; only an untouched or
		// still pending request gets the enable prompt.
		if o.permission == media.PermissionGranted || o.permission == media.PermissionDenied {
			return
		}
		o.narrate(beatEnableMic)
		o.requestPermission()
	}
}

func (o *Orchestrator) requestPermission() bool {
	if o.requesting || o.permission == media.PermissionGranted {
		return false
	}
	o.requesting = true
	o.permission = media.PermissionRequesting
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res, err := o.cfg.Gate.Request(o.ctx)
		o.onPermission(res, err)
	}()
	return true
}

func (o *Orchestrator) onPermission(res media.Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive {
		return
	}
	o.requesting = false
	if res.InFlight {
		return
	}
	if err != nil || res.State != media.PermissionGranted {
		o.permission = media.PermissionDenied
		o.logger.Info("microphone unavailable", zap.Error(err))
		o.narrate(beatMicBlocked)
		return
	}
	o.permission = media.PermissionGranted
	o.transition(StatePermissionResolved)
	o.narrate(beatMicGranted)
	o.schedule(o.cfg.Timings.Beats[0], o.beatSettingUp)
}

func (o *Orchestrator) startPolling() bool {
	if o.polling || o.deckReady {
		return false
	}
	o.polling = true
	id := o.cfg.PitchID
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		report, err := pitch.AwaitReady(o.ctx, o.cfg.Status, id, o.cfg.Backoff, func(r pitch.StatusReport) {
			o.logger.Debug("pitch status", zap.String("pitch_id", r.PitchID), zap.String("status", string(r.Status)))
		})
		o.onReadiness(report, err)
	}()
	return true
}

func (o *Orchestrator) onReadiness(_ pitch.StatusReport, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive {
		return
	}
	o.polling = false
	if err != nil {
		o.logger.Warn("deck readiness failed", zap.Error(err))
		b := beatDeckProblem
		b.Sub = err.Error()
		o.narrate(b)
		return
	}
	o.deckReady = true
	o.transition(StatePermissionResolved)
	o.narrate(beatDeckReady)
	o.schedule(o.cfg.Timings.Beats[0], o.beatSettingUp)
}

func (o *Orchestrator) beatSettingUp() {
	o.transition(StatePreparing)
	o.narrate(beatSettingUp)
	o.schedule(o.cfg.Timings.Beats[1], o.beatPersonaSynced)
}

func (o *Orchestrator) beatPersonaSynced() {
	o.narrate(beatPersonaSync)
	o.schedule(o.cfg.Timings.Beats[2], o.beatFinal)
}

func (o *Orchestrator) beatFinal() {
	o.transition(StateReadyToRoute)
	o.narrate(beatEncouraging)
	o.schedule(o.cfg.Timings.Anticipation, func() { o.tryRoute("anticipation") })
}

func (o *Orchestrator) canRoute() bool {
	switch o.cfg.Mode {
	case ModeUpload:
		return o.cfg.PitchID != "" && o.deckReady
	default:
		return o.permission == media.PermissionGranted
	}
}

// tryRoute is the single terminal edge. Caller holds mu.
func (o *Orchestrator) tryRoute(source string) bool {
	if !o.alive || o.navigated || !o.canRoute() {
		return false
	}
	o.navigated = true
	o.stopTimers()
	o.route = Route{Path: BoardroomPath, Persona: o.cfg.Persona}
	if o.cfg.Mode == ModeUpload {
		o.route.PitchID = o.cfg.PitchID
		o.route.Mode = ModeUpload
	}

	if o.cfg.Gate != nil {
		if err := o.cfg.Gate.Release(); err != nil {
			o.logger.Warn("release before navigation failed", zap.Error(err))
		}
	}
	o.transition(StateRouted)
	o.logger.Info("intake routed", zap.String("route", o.route.String()), zap.String("trigger", source))
	if err := o.cfg.Navigator.Navigate(o.route); err != nil {
		o.logger.Warn("navigation failed", zap.Error(err))
	}
	return true
}

// schedule runs step after d unless the session is torn down, routed, or the
// timer generation moved on. Caller holds mu.
func (o *Orchestrator) schedule(d time.Duration, step func()) {
	o.timerSeq++
	id := o.timerSeq
	gen := o.gen
	o.timers[id] = o.cfg.Clock.AfterFunc(d, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.timers, id)
		if !o.alive || o.gen != gen || o.state.Terminal() {
			return
		}
		step()
	})
}

func (o *Orchestrator) stopTimers() {
	o.gen++
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Orchestrator) transition(to State) {
	if o.state == to {
		return
	}
	from := o.state
	o.state = to
	o.cfg.Observer.StateChanged(Transition{From: from, To: to, At: o.cfg.Clock.Now()})
}

func (o *Orchestrator) narrate(b Beat) {
	o.cfg.Observer.Narrate(b)
}
