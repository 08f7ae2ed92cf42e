package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter sends enhanced errors to an external system
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry.
// sentry.Init must be called by the application before enabling it.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with URLs and credentials scrubbed
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.Context {
			if s, ok := value.(string); ok {
				value = ScrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := sentryLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// errorTitle builds "Component Category Operation" for Sentry grouping
func errorTitle(ee *EnhancedError) string {
	var parts []string
	if ee.Component != "" && ee.Component != ComponentUnknown {
		parts = append(parts, titleCase(ee.Component))
	}
	parts = append(parts, categoryTitle(ee.Category))
	if op, ok := ee.Context["operation"].(string); ok && op != "" {
		for word := range strings.FieldsSeq(strings.ReplaceAll(op, "_", " ")) {
			parts = append(parts, titleCase(word))
		}
	}
	return strings.Join(parts, " ")
}

func categoryTitle(category ErrorCategory) string {
	switch category {
	case CategoryAcquisition:
		return "Frame Acquisition Error"
	case CategoryModelLoad:
		return "Model Loading Error"
	case CategoryInference:
		return "Inference Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryNetwork, CategoryMQTTConnection:
		return "Network Error"
	case CategoryConfiguration:
		return "Configuration Error"
	default:
		return string(category)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryMQTTConnection, CategoryMQTTPublish, CategoryNotification, CategoryTimeout:
		return sentry.LevelWarning
	case CategoryValidation, CategoryImageDecode:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu     sync.RWMutex
	globalReporter TelemetryReporter
)

// SetTelemetryReporter installs the global reporter; nil disables reporting
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := globalReporter
	reporterMu.RUnlock()

	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlUserRegex    = regexp.MustCompile(`([a-z]+://)[^/@\s]+@`)
	secretPairRegex = regexp.MustCompile(`(?i)(api[_-]?key|token|auth|password)[=:]\S+`)
	longHexRegex    = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// ScrubMessage removes URL queries, URL credentials and key-like tokens from a message
func ScrubMessage(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = urlUserRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	scrubbed = secretPairRegex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	return longHexRegex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
}
