package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus vectors for the four components that do
// real work per session: the agent runtime, the message bus, the
// executor, and the workflow/session lifecycle.
type Metrics struct {
	registry *prometheus.Registry

	AgentCalls      *prometheus.CounterVec
	AgentCallErrors *prometheus.CounterVec
	AgentCallLatency *prometheus.HistogramVec
	AgentRateLimited *prometheus.CounterVec

	BusMessagesSent     *prometheus.CounterVec
	BusMessagesDropped  *prometheus.CounterVec
	BusInboxDepth       *prometheus.GaugeVec

	ExecutorRuns      *prometheus.CounterVec
	ExecutorFailures  *prometheus.CounterVec
	ExecutorWallTime  *prometheus.HistogramVec
	ExecutorActive    prometheus.Gauge

	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	SessionIterations *prometheus.HistogramVec
	SessionDuration   *prometheus.HistogramVec
}

// NewMetrics registers all vectors under cfg.Namespace. Callers should only
// invoke this once cfg.Enabled is true; a disabled Manager never calls it
// and Manager.Metrics() returns nil instead.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	ns := cfg.Namespace

	m := &Metrics{
		registry: reg,
		AgentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "agent", Name: "calls_total",
			Help: "Agent runtime invocations by role.",
		}, []string{"role"}),
		AgentCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "agent", Name: "call_errors_total",
			Help: "Agent runtime invocation errors by role and error kind.",
		}, []string{"role", "kind"}),
		AgentCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "agent", Name: "call_latency_seconds",
			Help:    "Agent LLM round-trip latency by role.",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
		AgentRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "agent", Name: "rate_limited_total",
			Help: "Times an agent call hit a provider rate limit and backed off.",
		}, []string{"role"}),

		BusMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "bus", Name: "messages_sent_total",
			Help: "Messages delivered by the bus, by recipient role and priority.",
		}, []string{"role", "priority"}),
		BusMessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "bus", Name: "messages_dropped_total",
			Help: "Messages that failed delivery, by reason.",
		}, []string{"role", "reason"}),
		BusInboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "bus", Name: "inbox_depth",
			Help: "Current queued message count per role inbox.",
		}, []string{"role"}),

		ExecutorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor", Name: "runs_total",
			Help: "Blender subprocess runs, by exit outcome.",
		}, []string{"outcome"}),
		ExecutorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor", Name: "failures_total",
			Help: "Blender subprocess failures by error kind.",
		}, []string{"kind"}),
		ExecutorWallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "executor", Name: "wall_time_seconds",
			Help:    "Wall-clock duration of a Blender subprocess run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		ExecutorActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "executor", Name: "active_runs",
			Help: "Blender subprocesses currently running.",
		}),

		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "started_total",
			Help: "Sessions created.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "completed_total",
			Help: "Sessions that reached a terminal status, by status.",
		}, []string{"status"}),
		SessionIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "session", Name: "iterations",
			Help:    "Refinement iterations consumed per session, by terminal status.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"status"}),
		SessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "session", Name: "duration_seconds",
			Help:    "End-to-end session wall time, by terminal status.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.AgentCalls, m.AgentCallErrors, m.AgentCallLatency, m.AgentRateLimited,
		m.BusMessagesSent, m.BusMessagesDropped, m.BusInboxDepth,
		m.ExecutorRuns, m.ExecutorFailures, m.ExecutorWallTime, m.ExecutorActive,
		m.SessionsStarted, m.SessionsCompleted, m.SessionIterations, m.SessionDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
