// Package metrics provides custom Prometheus metrics for the scanner.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on a concrete collector so tests can
// substitute TestRecorder.
type Recorder interface {
	// RecordOperation records an operation outcome, e.g. ("alert_save", "success").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// NoOpRecorder is a no-op implementation of the Recorder interface.
type NoOpRecorder struct{}

// RecordOperation does nothing.
func (n *NoOpRecorder) RecordOperation(operation, status string) {}

// RecordDuration does nothing.
func (n *NoOpRecorder) RecordDuration(operation string, seconds float64) {}

// RecordError does nothing.
func (n *NoOpRecorder) RecordError(operation, errorType string) {}

// NewNoOpRecorder creates a new no-op recorder instance.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}
