// Package metrics provides datastore metrics for observability
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for datastore operations
type DatastoreMetrics struct {
	dbOperationsTotal      *prometheus.CounterVec
	dbOperationDuration    *prometheus.HistogramVec
	dbOperationErrorsTotal *prometheus.CounterVec
	dbTableRowCountGauge   *prometheus.GaugeVec
}

// NewDatastoreMetrics creates and registers new datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() error {
	m.dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)

	m.dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_db_operation_duration_seconds",
			Help:    "Time taken for database operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"operation", "table"},
	)

	m.dbOperationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	m.dbTableRowCountGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datastore_table_rows",
			Help: "Row count per table after the last write",
		},
		[]string{"table"},
	)

	return nil
}

func (m *DatastoreMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.dbOperationsTotal,
		m.dbOperationDuration,
		m.dbOperationErrorsTotal,
		m.dbTableRowCountGauge,
	}
}

// Describe implements the prometheus.Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// UpdateTableRowCount sets the row count gauge for table
func (m *DatastoreMetrics) UpdateTableRowCount(table string, rowCount int64) {
	m.dbTableRowCountGauge.WithLabelValues(table).Set(float64(rowCount))
}

// parseTableFromOperation splits operations like "alert_save:alerts".
// Operations without a table report "unknown".
func parseTableFromOperation(operation string) (op, table string) {
	op, table, found := strings.Cut(operation, ":")
	if !found || table == "" {
		return operation, "unknown"
	}
	return op, table
}

// RecordOperation implements the Recorder interface.
// Use the "operation:table" form, e.g. "alert_save:alerts".
func (m *DatastoreMetrics) RecordOperation(operation, status string) {
	op, table := parseTableFromOperation(operation)
	m.dbOperationsTotal.WithLabelValues(op, table, status).Inc()
}

// RecordDuration implements the Recorder interface.
func (m *DatastoreMetrics) RecordDuration(operation string, seconds float64) {
	op, table := parseTableFromOperation(operation)
	m.dbOperationDuration.WithLabelValues(op, table).Observe(seconds)
}

// RecordError implements the Recorder interface. The operation counter is
// also incremented with an error status.
func (m *DatastoreMetrics) RecordError(operation, errorType string) {
	op, table := parseTableFromOperation(operation)
	m.dbOperationErrorsTotal.WithLabelValues(op, table, errorType).Inc()
	m.dbOperationsTotal.WithLabelValues(op, table, StatusError).Inc()
}
