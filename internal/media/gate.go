// Package media owns access to the microphone: it asks a Provider for a
// handle, tracks the permission state and guarantees the handle is released
// exactly once.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PermissionState is the microphone permission as seen by one session.
type PermissionState string

const (
	PermissionUnrequested PermissionState = "unrequested"
	PermissionRequesting  PermissionState = "requesting"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrGateClosed       = errors.New("media gate closed")
)

// Handle is an acquired audio input. Release must be safe to call once;
// the Gate never calls it twice.
type Handle interface {
	Release() error
}

// Provider acquires the microphone. Acquire may block until the user answers
// a prompt; it returns early only when ctx is cancelled.
type Provider interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Result describes the outcome of a Request call.
type Result struct {
	State PermissionState
	// InFlight is set when the call found a request already running and did
	// nothing.
	InFlight bool
}

// Gate serializes permission requests for one session.
type Gate struct {
	provider Provider
	logger   *zap.Logger

	mu       sync.Mutex
	state    PermissionState
	handle   Handle
	released bool
	closed   bool
	onChange func(PermissionState)
}

func NewGate(provider Provider, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		provider: provider,
		logger:   logger,
		state:    PermissionUnrequested,
	}
}

// OnChange registers a hook fired after every state change, outside the lock.
func (g *Gate) OnChange(fn func(PermissionState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

func (g *Gate) State() PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Request asks the provider for the microphone. Calls made while a request is
// in flight return immediately with InFlight set; calls after a grant return
// the granted result without a new acquisition. A denial is returned as an
// error wrapping ErrPermissionDenied and may be retried.
func (g *Gate) Request(ctx context.Context) (Result, error) {
	g.mu.Lock()
	switch {
	case g.closed:
		state := g.state
		g.mu.Unlock()
		return Result{State: state}, ErrGateClosed
	case g.state == PermissionRequesting:
		g.mu.Unlock()
		return Result{State: PermissionRequesting, InFlight: true}, nil
	case g.state == PermissionGranted:
		g.mu.Unlock()
		return Result{State: PermissionGranted}, nil
	}
	g.state = PermissionRequesting
	hook := g.onChange
	g.mu.Unlock()
	notify(hook, PermissionRequesting)

	handle, err := g.provider.Acquire(ctx)

	g.mu.Lock()
	if g.closed {
		// Teardown happened while the prompt was open.
		g.state = PermissionUnrequested
		g.mu.Unlock()
		if handle != nil {
			g.releaseOrphan(handle)
		}
		return Result{State: PermissionUnrequested}, ErrGateClosed
	}
	if err != nil || handle == nil {
		if err == nil {
			err = errors.New("provider returned no handle")
		}
		g.state = PermissionDenied
		hook = g.onChange
		g.mu.Unlock()
		g.logger.Info("microphone permission denied", zap.Error(err))
		notify(hook, PermissionDenied)
		return Result{State: PermissionDenied}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	g.state = PermissionGranted
	g.handle = handle
	g.released = false
	hook = g.onChange
	g.mu.Unlock()
	g.logger.Debug("microphone permission granted")
	notify(hook, PermissionGranted)
	return Result{State: PermissionGranted}, nil
}

// Release stops the held handle. It is idempotent and a no-op when nothing
// was acquired. The permission state is left as is.
func (g *Gate) Release() error {
	g.mu.Lock()
	if g.handle == nil || g.released {
		g.mu.Unlock()
		return nil
	}
	h := g.handle
	g.released = true
	g.handle = nil
	g.mu.Unlock()

	if err := h.Release(); err != nil {
		g.logger.Warn("microphone release failed", zap.Error(err))
		return fmt.Errorf("release microphone: %w", err)
	}
	return nil
}

// Close releases any handle and makes later or in-flight acquisitions
// release immediately.
func (g *Gate) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return g.Release()
}

// Held reports whether a handle is currently acquired and not released.
func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle != nil && !g.released
}

func (g *Gate) releaseOrphan(h Handle) {
	if err := h.Release(); err != nil {
		g.logger.Warn("late microphone handle release failed", zap.Error(err))
	}
}

func notify(hook func(PermissionState), s PermissionState) {
	if hook != nil {
		hook(s)
	}
}
