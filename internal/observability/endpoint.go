// Package observability provides Prometheus metrics functionality for monitoring the scanner.
// Sentry error telemetry is handled by the errors package.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/logger"
	metricspkg "github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// Endpoint serves /metrics on a dedicated listener, separate from the API.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	debug         bool
}

// NewEndpoint creates a new instance of telemetry Endpoint.
// It returns an error if telemetry is disabled or has no listen address.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Realtime.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}
	if settings.Realtime.Telemetry.Listen == "" {
		return nil, fmt.Errorf("telemetry listen address not set")
	}

	return &Endpoint{
		listenAddress: settings.Realtime.Telemetry.Listen,
		metrics:       metrics,
		debug:         settings.Debug,
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	if e.debug {
		RegisterDebugHandlers(mux)
	}

	e.server = &http.Server{
		Addr:    e.listenAddress,
		Handler: mux,
	}

	log := GetLogger()
	errCh := make(chan error, 1)
	go func() {
		log.Info("telemetry endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		log.Error("telemetry server shutdown error", logger.Error(err))
		return err
	}
	return nil
}

// RegisterDebugHandlers mounts the pprof handlers under /debug/pprof/
func RegisterDebugHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
