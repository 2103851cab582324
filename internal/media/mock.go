package media

import (
	"context"
	"errors"
	"sync"
)

// ErrMockDenied is what MockProvider returns for a scripted denial.
var ErrMockDenied = errors.New("mock: user dismissed the microphone prompt")

// MockProvider grants or denies according to a script and counts what it hands
// out. It is used when no real capture device is wired and in tests.
type MockProvider struct {
	mu       sync.Mutex
	denials  int
	acquired int
	released int
	block    chan struct{}
}

// NewMockProvider returns a provider that denies the first denials requests
// and grants every later one.
func NewMockProvider(denials int) *MockProvider {
	return &MockProvider{denials: denials}
}

// BlockUntil makes Acquire wait for ch to close (or ctx to end) before
// answering, simulating an open permission prompt.
func (p *MockProvider) BlockUntil(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = ch
}

func (p *MockProvider) Acquire(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denials > 0 {
		p.denials--
		return nil, ErrMockDenied
	}
	p.acquired++
	return &mockHandle{provider: p}, nil
}

// Acquired is the number of handles granted so far.
func (p *MockProvider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Released is the number of Release calls received across all handles.
func (p *MockProvider) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

type mockHandle struct {
	provider *MockProvider
}

func (h *mockHandle) Release() error {
	h.provider.mu.Lock()
	defer h.provider.mu.Unlock()
	h.provider.released++
	return nil
}
