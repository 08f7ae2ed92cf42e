// Package telemetry provides opt-in, privacy-filtered error tracking
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/stationsafe/scanner-go/internal/buildinfo"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

var sentryInitialized atomic.Bool

// Option adjusts the Sentry client options before Init
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initializes Sentry and installs it as the reporter for
// enhanced errors. It does nothing unless telemetry is explicitly enabled.
func InitSentry(settings *conf.Settings, info *buildinfo.Context, opts ...Option) error {
	log := GetLogger()
	if !settings.Sentry.Enabled {
		log.Info("sentry telemetry is disabled (opt-in required)")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	options := sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,

		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // never leak the hostname
		Release:          info.Release(),
		BeforeSend:       beforeSend,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", info.GetSystemID())
		scope.SetTag("version", info.GetVersion())
		scope.SetContext("platform", map[string]any{
			"os":         platform.OS,
			"arch":       platform.Architecture,
			"num_cpu":    platform.NumCPU,
			"go_version": platform.GoVersion,
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	log.Info("sentry telemetry initialized",
		logger.String("system_id", info.GetSystemID()),
		logger.String("release", options.Release))
	return nil
}

// IsInitialized reports whether InitSentry enabled reporting
func IsInitialized() bool {
	return sentryInitialized.Load()
}

// Flush waits for buffered events to be sent
func Flush(timeout time.Duration) bool {
	if !sentryInitialized.Load() {
		return true
	}
	return sentry.Flush(timeout)
}

// Shutdown flushes pending events and stops reporting enhanced errors
func Shutdown(timeout time.Duration) {
	if !sentryInitialized.Swap(false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	sentry.Flush(timeout)
}

func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	return applyPrivacyFilters(event)
}

// applyPrivacyFilters strips host and user data and scrubs messages
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	return event
}
