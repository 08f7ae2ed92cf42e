package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to MQTT operations.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	LastConnectTime   prometheus.Gauge
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates a new instance of MQTTMetrics.
// It returns an error if metric registration fails.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() error {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_delivered_total",
		Help: "Total number of MQTT messages successfully delivered",
	}, []string{"kind"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "Total number of MQTT errors encountered",
	}, []string{"kind"})

	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Total number of MQTT reconnection attempts",
	})

	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})

	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of MQTT messages in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	return nil
}

// UpdateConnectionStatus updates the MQTT connection status and last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.Set(float64(time.Now().Unix()))
	} else {
		m.ConnectionStatus.Set(0)
	}
}

// RecordPublish records one publish of kind ("alert" or "state")
func (m *MQTTMetrics) RecordPublish(kind string, sizeBytes int, latency time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Errors.WithLabelValues(kind).Inc()
		return
	}
	m.MessagesDelivered.WithLabelValues(kind).Inc()
	m.MessageSize.Observe(float64(sizeBytes))
	m.PublishLatency.Observe(latency.Seconds())
}

// IncrementReconnectAttempts increments the reconnect attempts counter.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	m.MessagesDelivered.Collect(ch)
	m.Errors.Collect(ch)
	ch <- m.ReconnectAttempts
	ch <- m.LastConnectTime
	ch <- m.MessageSize
	ch <- m.PublishLatency
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	m.MessagesDelivered.Describe(ch)
	m.Errors.Describe(ch)
	ch <- m.ReconnectAttempts.Desc()
	ch <- m.LastConnectTime.Desc()
	ch <- m.MessageSize.Desc()
	ch <- m.PublishLatency.Desc()
}
