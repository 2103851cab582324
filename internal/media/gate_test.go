package media

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGateGrantAndRelease(t *testing.T) {
	p := NewMockProvider(0)
	g := NewGate(p, nil)
	require.Equal(t, PermissionUnrequested, g.State())

	res, err := g.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, res.State)
	assert.True(t, g.Held())

	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, p.Acquired())
	assert.Equal(t, 1, p.Released())
	assert.False(t, g.Held())
}

func TestGateGrantedIsNotReacquired(t *testing.T) {
	p := NewMockProvider(0)
	g := NewGate(p, nil)
	_, err := g.Request(context.Background())
	require.NoError(t, err)
	res, err := g.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, res.State)
	assert.Equal(t, 1, p.Acquired())
}

func TestGateDenyThenRetry(t *testing.T) {
	p := NewMockProvider(1)
	g := NewGate(p, nil)

	res, err := g.Request(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, PermissionDenied, res.State)
	assert.Equal(t, PermissionDenied, g.State())
	require.NoError(t, g.Release(), "release after denial is a no-op")
	assert.Zero(t, p.Released())

	res, err = g.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, res.State)
	require.NoError(t, g.Close())
	assert.Equal(t, 1, p.Released())
}

func TestGateReentrantRequestIsNoop(t *testing.T) {
	p := NewMockProvider(0)
	prompt := make(chan struct{})
	p.BlockUntil(prompt)
	g := NewGate(p, nil)

	done := make(chan Result, 1)
	go func() {
		res, _ := g.Request(context.Background())
		done <- res
	}()
	require.Eventually(t, func() bool { return g.State() == PermissionRequesting }, time.Second, time.Millisecond)

	res, err := g.Request(context.Background())
	require.NoError(t, err)
	assert.True(t, res.InFlight)

	close(prompt)
	first := <-done
	assert.Equal(t, PermissionGranted, first.State)
	assert.Equal(t, 1, p.Acquired())
	require.NoError(t, g.Close())
}

func TestGateCloseDuringPromptReleasesLateHandle(t *testing.T) {
	p := NewMockProvider(0)
	prompt := make(chan struct{})
	p.BlockUntil(prompt)
	g := NewGate(p, nil)

	done := make(chan error, 1)
	go func() {
		_, err := g.Request(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return g.State() == PermissionRequesting }, time.Second, time.Millisecond)

	require.NoError(t, g.Close())
	close(prompt)
	require.ErrorIs(t, <-done, ErrGateClosed)
	assert.Equal(t, 1, p.Acquired())
	assert.Equal(t, 1, p.Released())
	assert.False(t, g.Held())

	_, err := g.Request(context.Background())
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestGateCancelledPromptIsDenied(t *testing.T) {
	p := NewMockProvider(0)
	p.BlockUntil(make(chan struct{}))
	g := NewGate(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.Request(ctx)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, PermissionDenied, g.State())
}

func TestGateOnChange(t *testing.T) {
	var mu sync.Mutex
	var states []PermissionState
	g := NewGate(NewMockProvider(1), nil)
	g.OnChange(func(s PermissionState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})
	_, _ = g.Request(context.Background())
	_, _ = g.Request(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []PermissionState{
		PermissionRequesting, PermissionDenied,
		PermissionRequesting, PermissionGranted,
	}, states)
}

func TestPromptProvider(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptProvider(strings.NewReader("y\nno\n"), &out)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())

	_, err = p.Acquire(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "microphone released"))
	assert.Equal(t, 2, strings.Count(out.String(), "Allow microphone access?"))
}
