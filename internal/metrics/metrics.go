// Package metrics holds the Prometheus collectors for trial activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

const namespace = "trialsync"

// Metrics is a private registry with the collectors the service updates.
type Metrics struct {
	registry *prometheus.Registry

	Acquisitions    *prometheus.CounterVec
	ResponseAngle   prometheus.Histogram
	Playbacks       *prometheus.CounterVec
	Recordings      *prometheus.CounterVec
	RecordedSeconds prometheus.Counter
	Orders          prometheus.Counter
	StimulusCache   *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
}

// New registers every collector plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_acquisitions_total",
			Help:      "Angle acquisitions by outcome.",
		}, []string{"outcome"}),
		ResponseAngle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_angle_degrees",
			Help:      "Mean angle reported per acquisition.",
			Buckets:   prometheus.LinearBuckets(0, 15, 13),
		}),
		Playbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Stimulus playbacks by line and outcome.",
		}, []string{"line", "outcome"}),
		Recordings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Synced recordings by outcome.",
		}, []string{"outcome"}),
		RecordedSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_seconds_total",
			Help:      "Audio captured by synced recordings.",
		}),
		Orders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balanced_orders_total",
			Help:      "Balanced orders generated.",
		}),
		StimulusCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stimulus_cache_lookups_total",
			Help:      "Decoded stimulus cache lookups by result.",
		}, []string{"result"}),
		OperationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of blocking hardware operations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Acquisitions,
		m.ResponseAngle,
		m.Playbacks,
		m.Recordings,
		m.RecordedSeconds,
		m.Orders,
		m.StimulusCache,
		m.OperationTime,
	)
	return m
}

// Outcome labels err by fault kind; nil is "ok".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := faults.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

// Observe records the duration of an operation started at start.
func (m *Metrics) Observe(operation string, start time.Time) {
	m.OperationTime.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
