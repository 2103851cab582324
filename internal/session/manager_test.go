package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s, replaced := m.Create(CreateRequest{UserID: "u1", Persona: "mark", Mode: "microphone"})
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if replaced != nil {
		t.Fatalf("replaced = %+v, want nil", replaced)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Persona != "mark" || got.Status != StatusActive || got.IntakeState != "idle" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt.IsZero() {
		t.Fatalf("ended = %+v, want ended status and timestamp", ended)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	if _, err := m.End("missing"); err != ErrNotFound {
		t.Fatalf("End(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerCreateReplacesUsersActiveSession(t *testing.T) {
	m := NewManager(time.Minute)
	first, _ := m.Create(CreateRequest{UserID: "u1", Persona: "mark"})
	second, replaced := m.Create(CreateRequest{UserID: "u1", Persona: "lori"})

	if replaced == nil || replaced.ID != first.ID {
		t.Fatalf("replaced = %+v, want first session", replaced)
	}
	if replaced.Status != StatusEnded {
		t.Fatalf("replaced status = %q, want ended", replaced.Status)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	// Ending the replaced session must not detach the user's new one.
	if _, err := m.End(first.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	_, replaced = m.Create(CreateRequest{UserID: "u1"})
	if replaced == nil || replaced.ID != second.ID {
		t.Fatalf("replaced = %+v, want second session", replaced)
	}
}

func TestManagerTracksIntakeStateAndRoute(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create(CreateRequest{UserID: "u1"})
	if err := m.SetIntakeState(s.ID, "preparing"); err != nil {
		t.Fatalf("SetIntakeState() error = %v", err)
	}
	if err := m.SetRoute(s.ID, "/boardroom?persona=mark"); err != nil {
		t.Fatalf("SetRoute() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.IntakeState != "preparing" || got.Route != "/boardroom?persona=mark" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if err := m.Touch("missing"); err != ErrNotFound {
		t.Fatalf("Touch(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s, _ := m.Create(CreateRequest{UserID: "u1"})

	var mu sync.Mutex
	var expired []string
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, s.ID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && expired[0] == s.ID
	})

	// Ended sessions are forgotten after another timeout.
	waitFor(t, func() bool {
		_, err := m.Get(s.ID)
		return err == ErrNotFound
	})
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 {
		t.Fatalf("expire hook ran %d times, want 1", len(expired))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
