// Package metrics provides HTTP handler metrics for observability
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/stationsafe/scanner-go/internal/logger"
)

// HTTPMetrics contains Prometheus metrics for the HTTP API
type HTTPMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestErrors   *prometheus.CounterVec

	// SSE (Server-Sent Events) metrics
	sseActiveConnections  prometheus.Gauge
	sseTotalConnections   *prometheus.CounterVec
	sseConnectionDuration *prometheus.HistogramVec
	sseMessagesSent       *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() error {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route pattern, not the raw URL
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "path"},
	)

	m.httpRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP requests answered with an error",
		},
		[]string{"method", "path", "error_type"}, // error_type: validation, state, inference, system
	)

	m.sseActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_sse_active_connections",
		Help: "Number of currently open SSE streams",
	})

	m.sseTotalConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_sse_connections_total",
			Help: "SSE connections by endpoint and lifecycle status",
		},
		[]string{"endpoint", "status"}, // status: established, closed, canceled, error
	)

	m.sseConnectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_sse_connection_duration_seconds",
			Help:    "How long SSE clients stayed connected",
			Buckets: prometheus.ExponentialBuckets(1, BucketFactor2, BucketCount12), // 1s to ~1h
		},
		[]string{"endpoint"},
	)

	m.sseMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_sse_messages_sent_total",
			Help: "SSE events written to clients",
		},
		[]string{"endpoint", "message_type"}, // message_type: alert, detection, heartbeat, connected
	)

	return nil
}

func (m *HTTPMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestErrors,
		m.sseActiveConnections,
		m.sseTotalConnections,
		m.sseConnectionDuration,
		m.sseMessagesSent,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordHTTPRequestError records an HTTP request error
func (m *HTTPMetrics) RecordHTTPRequestError(method, path, errorType string) {
	m.httpRequestErrors.WithLabelValues(method, path, errorType).Inc()
}

// SSE connection close reason constants to prevent high cardinality metrics
const (
	SSECloseReasonClosed   = "closed"   // Normal client disconnect
	SSECloseReasonCanceled = "canceled" // Server shutting down
	SSECloseReasonError    = "error"    // Write failed
)

// SSEConnectionStarted increments active connections and total connections counter
func (m *HTTPMetrics) SSEConnectionStarted(endpoint string) {
	m.sseActiveConnections.Inc()
	m.sseTotalConnections.WithLabelValues(endpoint, "established").Inc()
}

// SSEConnectionClosed decrements active connections and records duration.
// Unknown reasons are reported as "error".
func (m *HTTPMetrics) SSEConnectionClosed(endpoint string, duration float64, reason string) {
	switch reason {
	case SSECloseReasonClosed, SSECloseReasonCanceled, SSECloseReasonError:
	default:
		reason = SSECloseReasonError
	}

	m.sseActiveConnections.Dec()
	m.sseTotalConnections.WithLabelValues(endpoint, reason).Inc()
	m.sseConnectionDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordSSEMessageSent records an SSE message sent
func (m *HTTPMetrics) RecordSSEMessageSent(endpoint, messageType string) {
	m.sseMessagesSent.WithLabelValues(endpoint, messageType).Inc()
}

// GetActiveSSEConnections returns the current number of active SSE connections
func (m *HTTPMetrics) GetActiveSSEConnections() float64 {
	metric := &dto.Metric{}
	if err := m.sseActiveConnections.Write(metric); err != nil {
		GetLogger().Warn("failed to read SSE active connections metric", logger.Error(err))
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
