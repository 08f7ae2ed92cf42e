// Package errors provides categorized errors with optional telemetry reporting.
// It also passes through the standard library helpers so callers can import
// it in place of the stdlib errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for handling, metrics and telemetry
type ErrorCategory string

const (
	CategoryAcquisition    ErrorCategory = "frame-acquisition"
	CategoryModelLoad      ErrorCategory = "model-loading"
	CategoryInference      ErrorCategory = "inference"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryState          ErrorCategory = "state"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryFileIO         ErrorCategory = "file-io"
	CategoryImageDecode    ErrorCategory = "image-decode"
	CategoryDatabase       ErrorCategory = "database"
	CategoryNetwork        ErrorCategory = "network"
	CategoryMQTTConnection ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish    ErrorCategory = "mqtt-publish"
	CategoryNotification   ErrorCategory = "notification"
	CategoryHTTP           ErrorCategory = "http-request"
	CategoryNotFound       ErrorCategory = "not-found"
	CategoryGeneric        ErrorCategory = "generic"
)

// ComponentUnknown is used when no component was set
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with component, category and context
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	mu       sync.Mutex
	reported bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, otherwise defers to the wrapped error
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported marks this error as sent to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been sent to telemetry
func (ee *EnhancedError) IsReported() bool {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an enhanced error around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an enhanced error from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair to the error context
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// ModelContext records the model file type without leaking the full path
func (eb *ErrorBuilder) ModelContext(modelPath string) *ErrorBuilder {
	if modelPath == "" {
		return eb
	}
	return eb.Context("model_extension", fileExtension(modelPath))
}

// Timing adds operation and duration context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	return eb.Context("operation", operation).Context("duration_ms", duration.Milliseconds())
}

// Build creates the EnhancedError and reports it when telemetry is active
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.err == nil {
		eb.err = stderrors.New("unspecified error")
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Component == "" {
		ee.Component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = inheritCategory(eb.err)
	}

	if hasActiveReporting.Load() {
		reportToTelemetry(ee)
	}

	return ee
}

// inheritCategory keeps the category of a wrapped EnhancedError
func inheritCategory(err error) ErrorCategory {
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}
	return CategoryGeneric
}

func fileExtension(path string) string {
	if lastDot := strings.LastIndex(path, "."); lastDot > 0 && lastDot < len(path)-1 {
		return strings.ToLower(path[lastDot+1:])
	}
	return "none"
}

var hasActiveReporting atomic.Bool

// NewStd creates a new standard error
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if err is an EnhancedError with the given category
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsNotFound checks for CategoryNotFound
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
