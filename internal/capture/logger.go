package capture

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the capture module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("capture")
}
