package detector

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the detector module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("detector")
}
