// Package metrics exposes Prometheus instruments for turns, tool calls and
// flow runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowmesh"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	completions *prometheus.CounterVec
	complLat    *prometheus.HistogramVec
	steps       *prometheus.CounterVec
	flowRuns    *prometheus.CounterVec
	activeRuns  prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls interpreted from assistant messages, by tool and status.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool dispatch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion requests by model and outcome.",
		}, []string{"model", "outcome"}),
		complLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion latency until the final response.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"model"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_steps_total",
			Help:      "Executed flow steps by kind and outcome.",
		}, []string{"kind", "outcome"}),
		flowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Finished flow runs by terminal state.",
		}, []string{"state"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_runs_active",
			Help:      "Flow runs currently executing.",
		}),
	}
	reg.MustRegister(m.toolCalls, m.toolLatency, m.completions, m.complLat, m.steps, m.flowRuns, m.activeRuns)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ToolCall records one interpreted tool call.
func (m *Metrics) ToolCall(tool, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(dur.Seconds())
}

// Completion records one completion request.
func (m *Metrics) Completion(model string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(model, outcome(err)).Inc()
	m.complLat.WithLabelValues(model).Observe(dur.Seconds())
}

// Step records one executed flow step.
func (m *Metrics) Step(kind string, err error) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind, outcome(err)).Inc()
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished decrements the active run gauge and counts the terminal state.
func (m *Metrics) RunFinished(state string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.flowRuns.WithLabelValues(state).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
