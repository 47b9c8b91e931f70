package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records API server traffic and streaming connections.
type HTTPMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	responseSize        *prometheus.HistogramVec
	sseActive           prometheus.Gauge
	sseMessagesSent     *prometheus.CounterVec
	playbackSessions    prometheus.Gauge
	predictionsTotal    *prometheus.CounterVec
	occurrenceFetches   *prometheus.CounterVec
	occurrenceRecords   prometheus.Histogram
	searchSuggestions   prometheus.Histogram
	searchRequestsTotal *prometheus.CounterVec
	outboundTotal       *prometheus.CounterVec
	outboundDuration    *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers API metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "path"},
	)

	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor10, BucketCount6),
		},
		[]string{"method", "path"},
	)

	m.sseActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_active_connections",
		Help: "Number of open server-sent event streams",
	})

	m.sseMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sse_messages_sent_total",
			Help: "Total number of server-sent events written",
		},
		[]string{"stream", "event"},
	)

	m.playbackSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_sessions_active",
		Help: "Number of live year playback sessions",
	})

	m.predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of forecast requests",
		},
		[]string{"status"}, // success, error, narrative_error
	)

	m.occurrenceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "occurrence_fetches_total",
			Help: "Total number of occurrence fetches",
		},
		[]string{"mode", "status"},
	)

	m.occurrenceRecords = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "occurrence_fetch_records",
		Help:    "Deduplicated records returned per occurrence fetch",
		Buckets: prometheus.ExponentialBuckets(1, BucketFactor10, BucketCount6),
	})

	m.searchSuggestions = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "species_search_suggestions",
		Help:    "Suggestions returned per species search",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	m.searchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "species_search_requests_total",
			Help: "Total number of species searches",
		},
		[]string{"status"},
	)

	m.outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_requests_total",
			Help: "Total number of requests made to upstream services",
		},
		[]string{"host", "method", "status_code"}, // status_code is "error" on transport failure
	)

	m.outboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbound_request_duration_seconds",
			Help:    "Time until upstream response headers arrived",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"host"},
	)
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.responseSize,
		m.sseActive,
		m.sseMessagesSent,
		m.playbackSessions,
		m.predictionsTotal,
		m.occurrenceFetches,
		m.occurrenceRecords,
		m.searchSuggestions,
		m.searchRequestsTotal,
		m.outboundTotal,
		m.outboundDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordHTTPRequest records a served request. path is the route pattern.
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, size int64) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if size >= 0 {
		m.responseSize.WithLabelValues(method, path).Observe(float64(size))
	}
}

// SSEOpened increments the open stream gauge.
func (m *HTTPMetrics) SSEOpened() { m.sseActive.Inc() }

// SSEClosed decrements the open stream gauge.
func (m *HTTPMetrics) SSEClosed() { m.sseActive.Dec() }

// RecordSSEMessage counts one event written to stream.
func (m *HTTPMetrics) RecordSSEMessage(stream, event string) {
	m.sseMessagesSent.WithLabelValues(stream, event).Inc()
}

// SetPlaybackSessions sets the live session gauge.
func (m *HTTPMetrics) SetPlaybackSessions(n int) {
	m.playbackSessions.Set(float64(n))
}

// RecordPrediction counts a forecast by status.
func (m *HTTPMetrics) RecordPrediction(status string) {
	m.predictionsTotal.WithLabelValues(status).Inc()
}

// RecordOccurrenceFetch counts a fetch and observes its record count.
func (m *HTTPMetrics) RecordOccurrenceFetch(mode, status string, records int) {
	m.occurrenceFetches.WithLabelValues(mode, status).Inc()
	if status == "success" {
		m.occurrenceRecords.Observe(float64(records))
	}
}

// RecordSearch counts a species search and observes its result size.
func (m *HTTPMetrics) RecordSearch(status string, suggestions int) {
	m.searchRequestsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.searchSuggestions.Observe(float64(suggestions))
	}
}

// RecordOutboundRequest counts an upstream call. A zero statusCode records a
// transport failure.
func (m *HTTPMetrics) RecordOutboundRequest(host, method string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	m.outboundTotal.WithLabelValues(host, method, status).Inc()
	m.outboundDuration.WithLabelValues(host).Observe(duration.Seconds())
}
