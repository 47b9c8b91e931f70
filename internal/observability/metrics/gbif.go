// Package metrics provides Prometheus collectors for biomap components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GBIFMetrics records GBIF API traffic. It satisfies gbif.MetricsRecorder.
type GBIFMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewGBIFMetrics creates and registers GBIF metrics.
func NewGBIFMetrics(registry *prometheus.Registry) (*GBIFMetrics, error) {
	m := &GBIFMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register GBIF metrics: %w", err)
	}
	return m, nil
}

func (m *GBIFMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbif_requests_total",
			Help: "Total number of GBIF API requests.",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, network_error, malformed or the HTTP status
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gbif_request_duration_seconds",
			Help:    "Duration of GBIF API requests.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		},
		[]string{"endpoint"},
	)

	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbif_cache_hits_total",
			Help: "Total number of GBIF responses served from cache.",
		},
		[]string{"endpoint"},
	)

	m.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbif_cache_misses_total",
			Help: "Total number of GBIF cache misses.",
		},
		[]string{"endpoint"},
	)
}

func (m *GBIFMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requestsTotal, m.requestDuration, m.cacheHits, m.cacheMisses}
}

// Describe implements prometheus.Collector.
func (m *GBIFMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *GBIFMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordRequest counts a finished request.
func (m *GBIFMetrics) RecordRequest(endpoint, outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordCacheHit counts a cache hit.
func (m *GBIFMetrics) RecordCacheHit(endpoint string) {
	m.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss counts a cache miss.
func (m *GBIFMetrics) RecordCacheMiss(endpoint string) {
	m.cacheMisses.WithLabelValues(endpoint).Inc()
}
