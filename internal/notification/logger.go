package notification

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the notification module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}
