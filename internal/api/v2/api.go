// internal/api/v2/api.go
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/datastore"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// GetLogger returns the v2 API logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api").Module("v2")
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Monitor  *analysis.Monitor
	DS       datastore.Interface // optional, enables /alerts/history
	Settings *conf.Settings

	metrics        *metrics.HTTPMetrics
	logger         logger.Logger
	maxUploadBytes int64
	heartbeat      time.Duration
	startTime      time.Time

	// settingsMutex serializes runtime settings changes
	settingsMutex sync.Mutex

	sseManager   *SSEManager
	unsubscribes []func()

	ctx    context.Context
	cancel context.CancelFunc
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithDataStore enables the persisted alert history endpoint.
func WithDataStore(ds datastore.Interface) Option {
	return func(c *Controller) {
		c.DS = ds
	}
}

// WithMetrics records SSE metrics.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithMaxUploadBytes limits the size of images accepted by /detect.
func WithMaxUploadBytes(n int64) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxUploadBytes = n
		}
	}
}

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// New creates the v2 controller, mounts it under /api/v2 on e and
// subscribes the SSE manager to the monitor's alerts and detections.
func New(e *echo.Echo, monitor *analysis.Monitor, settings *conf.Settings, opts ...Option) (*Controller, error) {
	if monitor == nil {
		return nil, errors.Newf("api controller needs a monitor").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:           e,
		Group:          e.Group("/api/v2"),
		Monitor:        monitor,
		Settings:       settings,
		logger:         GetLogger(),
		maxUploadBytes: DefaultMaxUploadBytes,
		heartbeat:      DefaultHeartbeat,
		startTime:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sseManager = NewSSEManager(c.logger, c.metrics)
	if err := c.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	c.initRoutes()
	return c, nil
}

// subscribe feeds alerts and detection results into the SSE manager. The
// names are unique so several controllers can share one monitor.
func (c *Controller) subscribe() error {
	suffix := uuid.NewString()[:8]

	unsubAlerts, err := c.Monitor.SubscribeAlerts("sse-alerts-"+suffix, c.sseManager.BroadcastAlert)
	if err != nil {
		return err
	}
	unsubDetections, err := c.Monitor.SubscribeDetections("sse-detections-"+suffix, c.sseManager.BroadcastDetections)
	if err != nil {
		unsubAlerts()
		return err
	}
	c.unsubscribes = []func(){unsubAlerts, unsubDetections}
	return nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initStateRoutes()
	c.initControlRoutes()
	c.initDetectRoutes()
	c.initSSERoutes()
}

// HealthCheck handles the API health check endpoint
func (c *Controller) HealthCheck(ctx echo.Context) error {
	status := c.Monitor.Status()
	response := map[string]any{
		"status":         "healthy",
		"worker":         status.Worker,
		"camera":         status.Camera,
		"model_loaded":   status.Model != nil,
		"uptime":         time.Since(c.startTime).String(),
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if c.DS != nil {
		if _, err := c.DS.Count(); err != nil {
			response["database_status"] = "disconnected"
			response["database_error"] = err.Error()
		} else {
			response["database_status"] = "connected"
		}
	}

	return ctx.JSON(http.StatusOK, response)
}

// Shutdown detaches from the monitor and closes every SSE stream
func (c *Controller) Shutdown() {
	c.cancel()
	for _, unsub := range c.unsubscribes {
		unsub()
	}
	c.unsubscribes = nil
	c.sseManager.CloseAll()
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	return uuid.NewString()[:8]
}

// HandleError logs err and replies with an ErrorResponse
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", errorResp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Warn("API request rejected", fields...)
	}

	return ctx.JSON(code, errorResp)
}

// statusFor maps an error category to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, detector.ErrModelNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryModelLoad):
		return http.StatusUnprocessableEntity
	case errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryImageDecode):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryState):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusNotImplemented
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
