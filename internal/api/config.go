// Package api provides the HTTP server infrastructure for the scanner.
// The JSON endpoints live in the v2 subpackage.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "20M"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port

	// WriteTimeout is left at zero: SSE streams stay open indefinitely.
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit      string // echo size string, e.g. "20M"
	MaxUploadBytes int64  // limit for a single uploaded image
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "0.0.0.0:8080",
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		MaxUploadBytes:  20 << 20,
		AllowedOrigins:  []string{"*"},
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	config := DefaultConfig()
	if settings == nil {
		return config
	}

	if settings.WebServer.Listen != "" {
		config.Listen = settings.WebServer.Listen
	}
	if settings.WebServer.MaxUploadBytes > 0 {
		config.MaxUploadBytes = settings.WebServer.MaxUploadBytes
		// leave headroom for the multipart envelope
		config.BodyLimit = fmt.Sprintf("%dK", settings.WebServer.MaxUploadBytes/1024+64)
	}
	config.Debug = settings.Debug
	return config
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	return nil
}
