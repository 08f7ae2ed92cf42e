package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/stationsafe/scanner-go/internal/analysis"
	mw "github.com/stationsafe/scanner-go/internal/api/middleware"
	v2 "github.com/stationsafe/scanner-go/internal/api/v2"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/datastore"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// Server is the HTTP server for the scanner.
// It owns the Echo instance, the middleware stack and the v2 controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger

	// Dependencies
	monitor   *analysis.Monitor
	dataStore datastore.Interface
	metrics   *observability.Metrics

	apiController *v2.Controller

	shutdownOnce sync.Once
	startTime    time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore exposes persisted alert history through the API.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.dataStore = ds
	}
}

// WithMetrics enables HTTP metrics and the /metrics route.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithConfig overrides the configuration derived from settings.
func WithConfig(config *Config) ServerOption {
	return func(s *Server) {
		s.config = config
	}
}

// New creates a new HTTP server serving the given monitor.
func New(settings *conf.Settings, monitor *analysis.Monitor, opts ...ServerOption) (*Server, error) {
	s := &Server{
		config:    ConfigFromSettings(settings),
		settings:  settings,
		monitor:   monitor,
		logger:    GetLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.logger.Info("HTTP server initialized",
		logger.String("address", s.config.Listen),
		logger.Bool("metrics", s.metrics != nil),
		logger.Bool("history", s.dataStore != nil))
	return s, nil
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.logger, mw.SkipStreams))
	s.echo.Use(mw.NewMetrics(s.httpMetrics()))

	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
	}))

	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	opts := []v2.Option{
		v2.WithMaxUploadBytes(s.config.MaxUploadBytes),
		v2.WithMetrics(s.httpMetrics()),
	}
	if s.dataStore != nil {
		opts = append(opts, v2.WithDataStore(s.dataStore))
	}

	apiController, err := v2.New(s.echo, s.monitor, s.settings, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v2: %w", err)
	}
	s.apiController = apiController
	return nil
}

// healthCheck is a liveness probe. The v2 health endpoint reports pipeline detail.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", logger.String("address", s.config.Listen))
		errCh <- s.echo.Start(s.config.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.shutdownController()
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	<-errCh
	return nil
}

// Shutdown closes SSE streams, then stops the listener within ShutdownTimeout.
func (s *Server) Shutdown() error {
	s.shutdownController()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

func (s *Server) shutdownController() {
	s.shutdownOnce.Do(func() {
		if s.apiController != nil {
			s.apiController.Shutdown()
		}
	})
}

// Addr returns the bound listener address, or nil before Run has started listening.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}
