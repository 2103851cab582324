package observability

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Intake latency stages.
const (
	StagePermissionPrompt = "permission_prompt"
	StageGrantToRoute     = "grant_to_route"
	StageIntakeTotal      = "intake_total"
	StageUploadToReady    = "upload_to_ready"
)

// stageBudgets is the p95 budget per stage. The intake stages include the
// fixed narration delays.
var stageBudgets = map[string]time.Duration{
	StagePermissionPrompt: 8 * time.Second,
	StageGrantToRoute:     2900 * time.Millisecond,
	StageIntakeTotal:      12 * time.Second,
	StageUploadToReady:    10 * time.Second,
}

// LatencyStats summarizes the retained samples of one mode and stage.
type LatencyStats struct {
	Mode       string `json:"mode"`
	Stage      string `json:"stage"`
	Samples    int    `json:"samples"`
	LastMS     int64  `json:"last_ms"`
	P50MS      int64  `json:"p50_ms"`
	P95MS      int64  `json:"p95_ms"`
	MaxMS      int64  `json:"max_ms"`
	BudgetMS   int64  `json:"budget_ms,omitempty"`
	OverBudget int    `json:"over_budget"`
}

// IntakeLatency is the body of GET /v1/perf/intake.
type IntakeLatency struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      int            `json:"window"`
	Stages      []LatencyStats `json:"stages"`
	Outcomes    map[string]int `json:"outcomes,omitempty"`
}

type stageKey struct {
	mode  string
	stage string
}

// latencyWindow keeps the most recent samples per mode and stage. The
// over-budget count covers every sample seen, not only the retained ones.
type latencyWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[stageKey][]time.Duration
	over     map[stageKey]int
	outcomes map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:     size,
		samples:  make(map[stageKey][]time.Duration),
		over:     make(map[stageKey]int),
		outcomes: make(map[string]int),
	}
}

func (w *latencyWindow) observe(mode, stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	k := stageKey{mode: mode, stage: stage}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[k], d)
	if len(s) > w.size {
		s = append(s[:0], s[len(s)-w.size:]...)
	}
	w.samples[k] = s
	if budget, ok := stageBudgets[stage]; ok && d > budget {
		w.over[k]++
	}
}

func (w *latencyWindow) count(mode, outcome string) {
	if outcome == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[mode+"/"+outcome]++
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot(now time.Time) IntakeLatency {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]stageKey, 0, len(w.samples))
	for k := range w.samples {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b stageKey) int {
		return cmp.Or(cmp.Compare(a.mode, b.mode), cmp.Compare(a.stage, b.stage))
	})

	out := IntakeLatency{
		GeneratedAt: now.UTC(),
		Window:      w.size,
		Stages:      make([]LatencyStats, 0, len(keys)),
	}
	for _, k := range keys {
		s := w.samples[k]
		sorted := slices.Clone(s)
		slices.Sort(sorted)
		out.Stages = append(out.Stages, LatencyStats{
			Mode:       k.mode,
			Stage:      k.stage,
			Samples:    len(s),
			LastMS:     s[len(s)-1].Milliseconds(),
			P50MS:      nearestRank(sorted, 50).Milliseconds(),
			P95MS:      nearestRank(sorted, 95).Milliseconds(),
			MaxMS:      sorted[len(sorted)-1].Milliseconds(),
			BudgetMS:   stageBudgets[k.stage].Milliseconds(),
			OverBudget: w.over[k],
		})
	}
	if len(w.outcomes) > 0 {
		out.Outcomes = make(map[string]int, len(w.outcomes))
		for name, n := range w.outcomes {
			out.Outcomes[name] = n
		}
	}
	return out
}

// nearestRank returns the p-th percentile of a non-empty ascending slice.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
