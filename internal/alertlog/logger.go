package alertlog

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the alerts module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("alerts")
}
