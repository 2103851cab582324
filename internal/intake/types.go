// Package intake sequences the hand-off from the intake screen to the live
// boardroom session: microphone permission (or deck readiness), the timed
// narration beats, and a single terminal navigation.
package intake

import (
	"net/url"
	"time"
)

// Mode is how the user chose to begin.
type Mode string

const (
	ModeMicrophone Mode = "microphone"
	ModeUpload     Mode = "upload"
)

// ParseMode accepts the query-string spellings used by the onboarding pages.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "mic", "microphone", "":
		return ModeMicrophone, true
	case "upload":
		return ModeUpload, true
	default:
		return "", false
	}
}

// State is a node of the intake state machine.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateAwaitingReadiness  State = "awaiting_readiness"
	StatePermissionResolved State = "permission_resolved"
	StatePreparing          State = "preparing"
	StateReadyToRoute       State = "ready_to_route"
	StateRouted             State = "routed"
	StateClosed             State = "closed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateRouted || s == StateClosed
}

// Icon is the status glyph shown next to a narration line.
type Icon string

const (
	IconSpinner  Icon = "spinner"
	IconCheck    Icon = "check"
	IconMicError Icon = "mic-error"
	IconError    Icon = "error"
)

// Action is a user affordance offered alongside a narration line.
type Action string

const (
	ActionNone             Action = ""
	ActionEnableMicrophone Action = "enable_microphone"
	ActionRetryProcessing  Action = "retry_processing"
)

// Beat is one narration line.
type Beat struct {
	Title  string `json:"title"`
	Sub    string `json:"sub,omitempty"`
	Icon   Icon   `json:"icon"`
	Action Action `json:"action,omitempty"`
}

// Transition is a state change with the clock time it happened at.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Route is the terminal navigation target.
type Route struct {
	Path    string `json:"path"`
	Persona string `json:"persona"`
	PitchID string `json:"pitch_id,omitempty"`
	Mode    Mode   `json:"mode,omitempty"`
}

// BoardroomPath is the live-session destination.
const BoardroomPath = "/boardroom"

// String renders the route with its query parameters, e.g.
// /boardroom?persona=mark or /boardroom?mode=upload&persona=mark&pitchId=p1.
func (r Route) String() string {
	q := url.Values{}
	q.Set("persona", r.Persona)
	if r.PitchID != "" {
		q.Set("pitchId", r.PitchID)
		q.Set("mode", string(ModeUpload))
	}
	return r.Path + "?" + q.Encode()
}

// Navigator performs the terminal navigation. It is called at most once per
// orchestrator, with the orchestrator's lock held: it must not call back into
// the orchestrator.
type Navigator interface {
	Navigate(route Route) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Route) error

func (f NavigatorFunc) Navigate(r Route) error { return f(r) }

// Observer sees every transition and narration beat, in order. Like
// Navigator it runs under the orchestrator's lock.
type Observer interface {
	StateChanged(t Transition)
	Narrate(b Beat)
}

type nopObserver struct{}

func (nopObserver) StateChanged(Transition) {}
func (nopObserver) Narrate(Beat)            {}

// Timings are the presentation delays. Only their order is significant.
type Timings struct {
	Intro        time.Duration
	Beats        [3]time.Duration
	Anticipation time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Intro:        600 * time.Millisecond,
		Beats:        [3]time.Duration{450 * time.Millisecond, 550 * time.Millisecond, 550 * time.Millisecond},
		Anticipation: 1100 * time.Millisecond,
	}
}

// Total is the time from TunnelReady to navigation when nothing blocks.
func (t Timings) Total() time.Duration {
	return t.Intro + t.Beats[0] + t.Beats[1] + t.Beats[2] + t.Anticipation
}

// Narration lines.
var (
	beatCalling      = Beat{Title: "Calling the sharks…", Icon: IconSpinner}
	beatEnableMic    = Beat{Title: "Enable microphone to continue.", Sub: "Tap “Enable microphone” if prompted.", Icon: IconSpinner, Action: ActionEnableMicrophone}
	beatMicBlocked   = Beat{Title: "Microphone blocked", Sub: "Please allow mic access and try again.", Icon: IconMicError, Action: ActionEnableMicrophone}
	beatMicGranted   = Beat{Title: "Mic granted ✓", Icon: IconCheck}
	beatReviewing    = Beat{Title: "Reviewing your deck…", Icon: IconSpinner}
	beatDeckReady    = Beat{Title: "Deck reviewed ✓", Icon: IconCheck}
	beatNoDeck       = Beat{Title: "No deck to review", Sub: "Upload your deck again to continue.", Icon: IconError}
	beatSettingUp    = Beat{Title: "Setting up the boardroom…", Icon: IconSpinner}
	beatPersonaSync  = Beat{Title: "Persona synced. Voice & tone loaded.", Icon: IconCheck}
	beatEncouraging  = Beat{Title: "You’ve got this.", Icon: IconCheck}
	beatDeckProblem  = Beat{Title: "We couldn’t process your deck", Icon: IconError, Action: ActionRetryProcessing}
)
