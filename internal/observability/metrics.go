// Package observability exposes Prometheus metrics for the reasoning
// loop: session lifecycle, engine transitions, context assembly and
// tool execution.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsEvicted prometheus.Counter

	engineTransitions *prometheus.CounterVec
	engineRuns        *prometheus.CounterVec
	engineRunDuration prometheus.Histogram

	assembleDuration prometheus.Histogram
	sectionsDropped  prometheus.Counter

	toolExecutions  *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	generateLatency *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "reverie_active_sessions",
				Help: "Number of live decision engines.",
			}),
			sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "reverie_sessions_created_total",
				Help: "Total decision engines created.",
			}),
			sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "reverie_sessions_evicted_total",
				Help: "Total decision engines stopped by the TTL sweep.",
			}),
			engineTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reverie_engine_transitions_total",
					Help: "State machine transitions by source and target state.",
				},
				[]string{"from", "to"},
			),
			engineRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reverie_engine_runs_total",
					Help: "Completed engine runs by outcome.",
				},
				[]string{"outcome"},
			),
			engineRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "reverie_engine_run_duration_seconds",
				Help:    "Wall time of a full input-to-idle engine run.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
			assembleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "reverie_context_assemble_duration_seconds",
				Help:    "Context assembly duration.",
				Buckets: prometheus.DefBuckets,
			}),
			sectionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "reverie_context_sections_dropped_total",
				Help: "Context sections dropped or truncated by budget pruning.",
			}),
			toolExecutions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reverie_tool_executions_total",
					Help: "Tool executions by tool name and status.",
				},
				[]string{"tool", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "reverie_tool_duration_seconds",
					Help:    "Tool execution duration by tool name.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			generateLatency: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "reverie_provider_generate_duration_seconds",
					Help:    "Reasoning call latency by provider.",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsEvicted,
			m.engineTransitions,
			m.engineRuns,
			m.engineRunDuration,
			m.assembleDuration,
			m.sectionsDropped,
			m.toolExecutions,
			m.toolDuration,
			m.generateLatency,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Constructors call this
// so metrics exist before the first scrape.
func EnsureRegistered() {
	getMetrics()
}

// SetActiveSessions records the current number of live engines.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// RecordSessionCreated increments the engine creation counter.
func RecordSessionCreated() {
	getMetrics().sessionsCreated.Inc()
}

// RecordSessionEvicted increments the TTL eviction counter.
func RecordSessionEvicted() {
	getMetrics().sessionsEvicted.Inc()
}

// RecordTransition records a state machine transition.
func RecordTransition(from, to string) {
	getMetrics().engineTransitions.WithLabelValues(from, to).Inc()
}

// RecordEngineRun records a completed engine run and its duration.
func RecordEngineRun(outcome string, d time.Duration) {
	m := getMetrics()
	m.engineRuns.WithLabelValues(outcome).Inc()
	m.engineRunDuration.Observe(d.Seconds())
}

// RecordAssemble records a context assembly duration.
func RecordAssemble(d time.Duration) {
	getMetrics().assembleDuration.Observe(d.Seconds())
}

// RecordSectionDropped counts a pruned or truncated context section.
func RecordSectionDropped() {
	getMetrics().sectionsDropped.Inc()
}

// RecordToolExecution records one tool call.
func RecordToolExecution(tool, status string, d time.Duration) {
	m := getMetrics()
	m.toolExecutions.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordGenerate records a reasoning call latency.
func RecordGenerate(provider string, d time.Duration) {
	getMetrics().generateLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}
