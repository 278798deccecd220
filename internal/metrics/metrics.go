// Package metrics exposes Prometheus instrumentation for macro execution.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "litemacro"

// Reload results.
const (
	ReloadOK      = "ok"
	ReloadPartial = "partial"
	ReloadFailed  = "failed"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations  *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	reloads      *prometheus.CounterVec
	registered   prometheus.Gauge

	pendingOnce sync.Once
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of macro invocations that started a sequence",
			},
			[]string{"macro"},
		),
		stepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_failures_total",
				Help:      "Total number of steps whose execution failed",
			},
			[]string{"macro", "kind"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Execution time of individual steps, excluding delays",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"kind"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Registry reloads by result",
			},
			[]string{"result"},
		),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_macros",
			Help:      "Macros in the current registry generation",
		}),
	}

	m.registry.MustRegister(
		m.invocations,
		m.stepFailures,
		m.stepDuration,
		m.reloads,
		m.registered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackPending exports fn as the pending delay gauge. Only the first call
// takes effect.
func (m *Metrics) TrackPending(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.pendingOnce.Do(func() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_delays",
				Help:      "Scheduled continuations waiting to fire",
			},
			func() float64 { return float64(fn()) },
		))
	})
}

// Invoked counts a started invocation.
func (m *Metrics) Invoked(macro string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(macro).Inc()
}

// StepDone records one executed step.
func (m *Metrics) StepDone(macro, kind string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(kind).Observe(took.Seconds())
	if err != nil {
		m.stepFailures.WithLabelValues(macro, kind).Inc()
	}
}

// Reloaded records a reload outcome and the resulting registry size.
func (m *Metrics) Reloaded(result string, macros int) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(result).Inc()
	if result != ReloadFailed {
		m.registered.Set(float64(macros))
	}
}
