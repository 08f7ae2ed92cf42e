// Package middleware provides HTTP middleware components for the scanner server.
package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// NewRequestLogger creates a request logging middleware using RequestLoggerWithConfig.
func NewRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:     skipper,
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			log.WithContext(c.Request().Context()).Info("request", fields...)
			return nil
		},
	})
}

// NewMetrics records request counts and latency by route pattern. A nil
// m disables it.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			// errors are written by echo's error handler after the chain returns
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = 500
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			m.RecordHTTPRequest(method, path, status, time.Since(start).Seconds())
			if status >= 400 {
				m.RecordHTTPRequestError(method, path, errorType(status))
			}
			return err
		}
	}
}

// errorType buckets status codes into a small label set
func errorType(status int) string {
	switch {
	case status == 409:
		return "state"
	case status >= 500:
		return "system"
	case status >= 400:
		return "validation"
	default:
		return "none"
	}
}

// SkipStreams skips long-lived SSE requests, which would otherwise be
// logged only when they end
func SkipStreams(c echo.Context) bool {
	return strings.HasSuffix(c.Path(), "/stream")
}
