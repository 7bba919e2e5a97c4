// Package metrics provides Prometheus metrics for the classification service.
package metrics

import (
	"fmt"
	"time"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every collector exported by the service.
type Metrics struct {
	ClassificationTotal *prometheus.CounterVec
	FailureTotal        *prometheus.CounterVec
	CacheHitTotal       prometheus.Counter
	InferenceDuration   *prometheus.HistogramVec
	RequestDuration     *prometheus.HistogramVec
	ModelLoadedGauge    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ClassificationTotal,
		m.FailureTotal,
		m.CacheHitTotal,
		m.InferenceDuration,
		m.RequestDuration,
		m.ModelLoadedGauge,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.ClassificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_classifications_total",
			Help: "Total number of answered classifications partitioned by label, cache hits included.",
		},
		[]string{"label"},
	)
	m.FailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xray_classification_failures_total",
			Help: "Total number of failed classifications partitioned by error kind.",
		},
		[]string{"kind"},
	)
	m.CacheHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xray_result_cache_hits_total",
			Help: "Number of classifications answered from the result cache.",
		},
	)
	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xray_inference_duration_seconds",
			Help:    "Time spent in the model forward pass.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"label"},
	)
	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xray_http_request_duration_seconds",
			Help:    "HTTP request latency partitioned by route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
	m.ModelLoadedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xray_model_loaded",
			Help: "1 when the classifier model is loaded, by backend.",
		},
		[]string{"backend"},
	)
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveClassification(label pipeline.Label, inference time.Duration) {
	m.ClassificationTotal.WithLabelValues(string(label)).Inc()
	m.InferenceDuration.WithLabelValues(string(label)).Observe(inference.Seconds())
}

func (m *Metrics) ObserveFailure(kind apperrors.Kind) {
	m.FailureTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveCacheHit counts a cached answer as a classification. No inference
// time is recorded for it.
func (m *Metrics) ObserveCacheHit(label pipeline.Label) {
	m.CacheHitTotal.Inc()
	m.ClassificationTotal.WithLabelValues(string(label)).Inc()
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, fmt.Sprintf("%d", status)).Observe(d.Seconds())
}

func (m *Metrics) SetModelLoaded(backend string) {
	m.ModelLoadedGauge.WithLabelValues(backend).Set(1)
}
