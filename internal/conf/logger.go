// Package conf provides configuration management for the scanner.
package conf

import "github.com/stationsafe/scanner-go/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger each time because the central logger is set after package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
