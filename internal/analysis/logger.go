// Package analysis runs the live detection pipeline: it pulls the latest
// frame, runs the detector, filters the output and turns it into presence
// state and alerts.
package analysis

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the analysis module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}
