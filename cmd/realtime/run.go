package realtime

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/api"
	"github.com/stationsafe/scanner-go/internal/buildinfo"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability"
	"github.com/stationsafe/scanner-go/internal/telemetry"
)

const sentryFlushTimeout = 2 * time.Second

// GetLogger returns the realtime command logger
func GetLogger() logger.Logger {
	return logger.Global().Module("realtime")
}

// Run wires the monitor to its outputs and blocks until ctx is cancelled
// or a server fails. A model that fails to load does not stop the process;
// the monitor stays inert and can be started through the API.
func Run(ctx context.Context, settings *conf.Settings, info *buildinfo.Context) error {
	log := GetLogger()

	if err := telemetry.InitSentry(settings, info); err != nil {
		log.Warn("error tracking disabled", logger.Error(err))
	}
	defer telemetry.Shutdown(sentryFlushTimeout)

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	monitor, err := analysis.NewFromSettings(settings, m.Pipeline)
	if err != nil {
		return err
	}
	outputs := &outputs{monitor: monitor, log: log}
	defer shutdown(monitor, outputs, log)

	store, err := outputs.attachDatastore(settings, m)
	if err != nil {
		return err
	}
	if err := outputs.attachMQTT(ctx, settings, m); err != nil {
		return err
	}
	if err := outputs.attachPush(settings, m); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if settings.WebServer.Enabled {
		opts := []api.ServerOption{api.WithMetrics(m)}
		if store != nil {
			opts = append(opts, api.WithDataStore(store))
		}
		srv, err := api.New(settings, monitor, opts...)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if settings.Realtime.Telemetry.Enabled && settings.Realtime.Telemetry.Listen != "" {
		endpoint, err := observability.NewEndpoint(settings, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	if err := monitor.Start(gctx, settings.Detector.ModelPath); err != nil {
		log.Error("monitor not started", logger.Error(err), logger.String("model_path", settings.Detector.ModelPath))
	} else if settings.Realtime.Camera.Enabled {
		if err := monitor.StartCamera(gctx); err != nil {
			log.Error("camera not started", logger.Error(err))
		}
	}

	log.Info("scanner running",
		logger.String("station", settings.Main.Name),
		logger.Bool("web", settings.WebServer.Enabled),
		logger.Bool("camera", settings.Realtime.Camera.Enabled))

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	log.Info("shutting down")
	return err
}

// shutdown stops capture before inference and closes the monitor while the
// outputs are still attached, so the final lifecycle alerts reach them.
func shutdown(monitor *analysis.Monitor, out *outputs, log logger.Logger) {
	monitor.StopCamera()
	if err := monitor.Stop(); err != nil {
		log.Warn("monitor stop", logger.Error(err))
	}
	if err := monitor.Close(); err != nil {
		log.Warn("monitor close", logger.Error(err))
	}
	out.close()
}
