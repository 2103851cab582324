package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry
	latency  *latencyWindow

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	Uploads           *prometheus.CounterVec
	Polls             *prometheus.CounterVec
	IntakeTransitions *prometheus.CounterVec
	Navigations       *prometheus.CounterVec
	MediaEvents       *prometheus.CounterVec
	IntakeDuration    prometheus.Histogram
}

// NewMetrics registers the instruments on a private registry so several
// servers (and tests) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		latency:  newLatencyWindow(256),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_intake_sessions",
			Help:      "Number of intake sessions with a live orchestrator.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Intake session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pitch_uploads_total",
			Help:      "Pitch deck submissions by outcome.",
		}, []string{"outcome"}),
		Polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pitch_status_polls_total",
			Help:      "Status polls by reported status.",
		}, []string{"status"}),
		IntakeTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_transitions_total",
			Help:      "Intake state machine transitions by target state.",
		}, []string{"state"}),
		Navigations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_navigations_total",
			Help:      "Terminal navigations to the boardroom by intake mode.",
		}, []string{"mode"}),
		MediaEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_events_total",
			Help:      "Microphone permission outcomes and releases.",
		}, []string{"event"}),
		IntakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intake_duration_ms",
			Help:      "Time from tunnel ready to navigation in milliseconds.",
			Buckets:   []float64{1000, 2000, 3000, 4000, 6000, 10000, 20000, 60000},
		}),
	}
}

// ObserveStage records one latency sample for the /v1/perf/intake window.
func (m *Metrics) ObserveStage(mode, stage string, d time.Duration) {
	m.latency.observe(mode, stage, d)
	if stage == StageIntakeTotal {
		m.IntakeDuration.Observe(float64(d.Milliseconds()))
	}
}

// CountOutcome bumps a per-mode outcome counter shown next to the latencies.
func (m *Metrics) CountOutcome(mode, outcome string) {
	m.latency.count(mode, outcome)
}

func (m *Metrics) IntakeLatency() IntakeLatency {
	return m.latency.snapshot(time.Now())
}

// Gatherer exposes the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
