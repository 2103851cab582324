package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the registry's view of one intake run. IntakeState mirrors the
// orchestrator's latest state; Route is set once the session navigated.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	Persona        string    `json:"persona"`
	Mode           string    `json:"mode"`
	PitchID        string    `json:"pitch_id,omitempty"`
	IntakeState    string    `json:"intake_state"`
	Route          string    `json:"route,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new active session. A user has at most one active
// intake: the session it replaces, if any, is ended and returned.
func (m *Manager) Create(req CreateRequest) (created *Session, replaced *Session) {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Persona:        req.Persona,
		Mode:           req.Mode,
		PitchID:        req.PitchID,
		Status:         StatusActive,
		IntakeState:    "idle",
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if req.UserID != "" {
		if prevID, ok := m.sessionByUser[req.UserID]; ok {
			if prev, ok := m.sessions[prevID]; ok && prev.Status == StatusActive {
				endLocked(prev, now)
				replaced = clone(prev)
			}
		}
		m.sessionByUser[req.UserID] = s.ID
	}
	m.sessions[s.ID] = s
	return clone(s), replaced
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

// SetIntakeState records the orchestrator's latest state.
func (m *Manager) SetIntakeState(sessionID, state string) error {
	return m.update(sessionID, func(s *Session) { s.IntakeState = state })
}

// SetRoute records the navigation target.
func (m *Manager) SetRoute(sessionID, route string) error {
	return m.update(sessionID, func(s *Session) { s.Route = route })
}

func (m *Manager) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusActive {
		endLocked(s, time.Now().UTC())
	}
	if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
		delete(m.sessionByUser, s.UserID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that have been ended
// for longer than the inactivity timeout.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			if now.Sub(s.EndedAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		endLocked(s, now)
		expired = append(expired, clone(s))
		if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
			delete(m.sessionByUser, s.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func endLocked(s *Session, now time.Time) {
	s.Status = StatusEnded
	s.LastActivityAt = now
	s.EndedAt = now
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
