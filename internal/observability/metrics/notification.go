package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics tracks push notification delivery
type NotificationMetrics struct {
	ProviderDeliveriesTotal  *prometheus.CounterVec
	ProviderDeliveryDuration *prometheus.HistogramVec
	Suppressed               *prometheus.CounterVec
}

// NewNotificationMetrics creates and registers notification metrics
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize notification metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() error {
	m.ProviderDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_deliveries_total",
			Help: "Total number of notification delivery attempts by provider and status",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	m.ProviderDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_delivery_duration_seconds",
			Help:    "Time taken for notification delivery by provider",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}, // 10ms to 30s
		},
		[]string{"provider"},
	)

	m.Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_suppressed_total",
			Help: "Alerts not sent as notifications, by reason",
		},
		[]string{"reason"}, // reason: level, cooldown, rate_limit
	)

	return nil
}

// RecordDelivery records one send to provider
func (m *NotificationMetrics) RecordDelivery(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.ProviderDeliveriesTotal.WithLabelValues(provider, status).Inc()
	m.ProviderDeliveryDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSuppressed counts an alert dropped before delivery
func (m *NotificationMetrics) RecordSuppressed(reason string) {
	if m == nil {
		return
	}
	m.Suppressed.WithLabelValues(reason).Inc()
}

// Collect implements the prometheus.Collector interface
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ProviderDeliveriesTotal.Collect(ch)
	m.ProviderDeliveryDuration.Collect(ch)
	m.Suppressed.Collect(ch)
}

// Describe implements the prometheus.Collector interface
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ProviderDeliveriesTotal.Describe(ch)
	m.ProviderDeliveryDuration.Describe(ch)
	m.Suppressed.Describe(ch)
}
