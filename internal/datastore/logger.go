package datastore

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the datastore module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}
