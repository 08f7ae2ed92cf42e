package metrics

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the telemetry logger
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
