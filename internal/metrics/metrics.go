// Package metrics exposes Prometheus instruments for the analysis pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sigma"

// Stage outcomes.
const (
	OutcomePositive = "positive"
	OutcomeNegative = "negative"
	OutcomeError    = "error"
)

// Window outcomes.
const (
	WindowAnalyzed = "analyzed"
	WindowFailed   = "failed"
	WindowNoFrames = "no_frames"
)

type Metrics struct {
	registry *prometheus.Registry

	stageRuns     *prometheus.CounterVec
	stageSeconds  *prometheus.HistogramVec
	windows       *prometheus.CounterVec
	inflight      prometheus.Gauge
	attempts      *prometheus.CounterVec
	attemptsQueue prometheus.Gauge
}

// New creates the instruments on a private registry together with the Go
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{
		registry: registry,
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Escalation stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each escalation stage.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage"}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Frame-fallback windows by outcome.",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_requests_in_flight",
			Help:      "Frame-analysis requests currently outstanding.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Finished analysis attempts by final status.",
		}, []string{"status"}),
		attemptsQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attempts_queued",
			Help:      "Incidents waiting for a runner worker.",
		}),
	}
	registry.MustRegister(m.stageRuns, m.stageSeconds, m.windows, m.inflight, m.attempts, m.attemptsQueue)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) WindowDone(outcome string) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(outcome).Inc()
}

// InflightAdd moves the in-flight gauge by delta.
func (m *Metrics) InflightAdd(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

func (m *Metrics) AttemptFinished(status string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.attemptsQueue.Set(float64(n))
}
