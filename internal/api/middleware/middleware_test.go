package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

func TestRequestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := echo.New()
	e.Use(NewRequestLogger(logger.NewSlogLogger(&buf, logger.LogLevelDebug, nil)))
	e.GET("/api/v2/state", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/state", http.NoBody))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, buf.String(), "/api/v2/state")
	assert.Contains(t, buf.String(), "204")
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Use(NewMetrics(m))
	e.GET("/items/:id", func(c echo.Context) error {
		if c.Param("id") == "bad" {
			return echo.NewHTTPError(http.StatusBadRequest, "bad id")
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/items/1", "/items/2", "/items/bad"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	assert.Equal(t, 2, testutil.CollectAndCount(m, "http_requests_total"))
	expected := `
# HELP http_request_errors_total Total number of HTTP requests answered with an error
# TYPE http_request_errors_total counter
http_request_errors_total{error_type="validation",method="GET",path="/items/:id"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m, bytes.NewBufferString(expected), "http_request_errors_total"))
}

func TestNilMetricsIsPassthrough(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewMetrics(nil))
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   string
	}{
		{200, "none"},
		{400, "validation"},
		{413, "validation"},
		{409, "state"},
		{500, "system"},
		{503, "system"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorType(tt.status), tt.status)
	}
}
