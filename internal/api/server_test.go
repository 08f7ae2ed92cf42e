package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector/detectortest"
	"github.com/stationsafe/scanner-go/internal/observability"
	"github.com/stationsafe/scanner-go/internal/testutil"
)

func newTestMonitor(t *testing.T) *analysis.Monitor {
	t.Helper()
	monitor, err := analysis.NewMonitor(analysis.Config{
		Registry:     detection.ClassRegistry{"FireExtinguisher", "ToolBox", "OxygenTank"},
		Threshold:    0.5,
		PollInterval: 5 * time.Millisecond,
		StopTimeout:  time.Second,
	}, detectortest.NewLoader())
	require.NoError(t, err)
	t.Cleanup(func() { _ = monitor.Close() })
	return monitor
}

func testSettings(listen string) *conf.Settings {
	settings := &conf.Settings{}
	settings.WebServer.Listen = listen
	return settings
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	settings := testSettings("127.0.0.1:9090")
	settings.WebServer.MaxUploadBytes = 1 << 20
	config := ConfigFromSettings(settings)

	assert.Equal(t, "127.0.0.1:9090", config.Listen)
	assert.Equal(t, int64(1<<20), config.MaxUploadBytes)
	assert.Equal(t, "1088K", config.BodyLimit)
	require.NoError(t, config.Validate())

	assert.Equal(t, DefaultConfig().Listen, ConfigFromSettings(nil).Listen)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Listen = "localhost" }},
		{"zero upload", func(c *Config) { c.MaxUploadBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := DefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(testSettings("no-port"), newTestMonitor(t))
	require.Error(t, err)
}

func TestNewRequiresMonitor(t *testing.T) {
	t.Parallel()
	_, err := New(testSettings("127.0.0.1:0"), nil)
	require.Error(t, err)
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	s, err := New(testSettings("127.0.0.1:0"), newTestMonitor(t), WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = get("/api/v2/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ToolBox"`)

	assert.Equal(t, http.StatusNotFound, get("/api/v2/alerts/history").Code, "history needs a datastore")

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `http_requests_total{method="GET",path="/api/v2/state",status_code="200"} 1`), body)
}

func TestServerWithoutMetricsHasNoMetricsRoute(t *testing.T) {
	t.Parallel()

	s, err := New(testSettings("127.0.0.1:0"), newTestMonitor(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := New(testSettings("127.0.0.1:0"), newTestMonitor(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, testutil.WaitForError(t, done, testutil.DefaultTestTimeout, "Run did not return after cancel"))
}
