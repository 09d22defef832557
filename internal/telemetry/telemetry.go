// Package telemetry exposes Prometheus collectors for the detector service.
// All methods are safe on a nil *Metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "morgoth"

// Metrics holds the service collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	evaluations *prometheus.CounterVec
	verdicts    *prometheus.CounterVec
	duration    prometheus.Histogram
	dropped     prometheus.Counter
	inFlight    prometheus.Gauge
	tracked     prometheus.Gauge
	ingested    prometheus.Counter
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluation cycles run per metric, by result.",
		}, []string{"result"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Live window verdicts, by verdict.",
		}, []string{"verdict"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating one metric.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Evaluations dropped because the dispatch queue was full.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluations_in_flight",
			Help:      "Evaluations currently running.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_metrics",
			Help:      "Metrics currently tracked.",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_samples_total",
			Help:      "Samples accepted by the ingestor.",
		}),
	}

	m.registry.MustRegister(
		m.evaluations,
		m.verdicts,
		m.duration,
		m.dropped,
		m.inFlight,
		m.tracked,
		m.ingested,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObserveEvaluation records one finished evaluation. verdict is ignored
// when err is set.
func (m *Metrics) ObserveEvaluation(verdict string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(took.Seconds())
	if err != nil {
		m.evaluations.WithLabelValues("error").Inc()
		return
	}
	m.evaluations.WithLabelValues("ok").Inc()
	m.verdicts.WithLabelValues(verdict).Inc()
}

// IncDropped counts a dispatch dropped on a full queue
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// EvaluationStarted bumps the in-flight gauge; call the returned func when done
func (m *Metrics) EvaluationStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// SetTracked sets the tracked metric gauge
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

// AddIngested counts accepted samples
func (m *Metrics) AddIngested(n int) {
	if m == nil {
		return
	}
	m.ingested.Add(float64(n))
}
