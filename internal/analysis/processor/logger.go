// Package processor turns filtered detections into presence transitions and alerts.
package processor

import (
	"github.com/stationsafe/scanner-go/internal/logger"
)

// GetLogger returns the processor logger scoped under the analysis module
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis").Module("processor")
}
