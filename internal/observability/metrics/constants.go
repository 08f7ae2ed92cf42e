// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation names recorded through the Recorder interface
const (
	// OpAlertSave is an alert log entry being persisted
	OpAlertSave = "alert_save"
	// OpAlertRecent is a query for the most recent persisted alerts
	OpAlertRecent = "alert_recent"
	// OpAlertPrune is a retention cleanup of persisted alerts
	OpAlertPrune = "alert_prune"
	// OpMigrate is schema migration at startup
	OpMigrate = "migrate"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	BucketCount10 = 10
	BucketCount12 = 12
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics listener
const ShutdownTimeout = 5 * time.Second
