package pitch

import "sync"

// Tracker keeps the per-id poll counters behind the mock status endpoint.
// One instance is shared by reference; counters live as long as the instance.
type Tracker struct {
	mu         sync.Mutex
	readyAfter int
	counts     map[string]int
}

func NewTracker(readyAfter int) *Tracker {
	if readyAfter <= 0 {
		readyAfter = DefaultReadyAfter
	}
	return &Tracker{
		readyAfter: readyAfter,
		counts:     make(map[string]int),
	}
}

// Seed registers id with a zero counter. An existing counter is left alone.
func (t *Tracker) Seed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.counts[id]; !ok {
		t.counts[id] = 0
	}
}

// Next records one poll for id and returns the status it observes.
// Unknown ids start at zero.
func (t *Tracker) Next(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.counts[id]
	t.counts[id] = n + 1
	return StatusAfter(n, t.readyAfter)
}

// Polls returns how many polls id has seen.
func (t *Tracker) Polls(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id]
}

// Known reports whether id was seeded or polled.
func (t *Tracker) Known(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.counts[id]
	return ok
}

// StatusAfter is the status reported by the poll that follows previousPolls
// earlier polls. It only ever moves forward.
func StatusAfter(previousPolls, readyAfter int) Status {
	if readyAfter <= 0 {
		readyAfter = DefaultReadyAfter
	}
	if previousPolls < readyAfter {
		return StatusProcessing
	}
	return StatusReady
}
