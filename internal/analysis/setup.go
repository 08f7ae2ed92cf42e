package analysis

import (
	"fmt"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/capture/webcam"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/detector/onnx"
	"github.com/stationsafe/scanner-go/internal/detector/remote"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/events"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// NewLoader returns the model loader for the configured backend
func NewLoader(settings *conf.Settings) (detector.Loader, error) {
	d := settings.Detector
	switch d.Backend {
	case "", conf.BackendONNX:
		return onnx.NewLoader(onnx.Config{
			InputSize:    d.InputSize,
			NMSThreshold: d.NMSThreshold,
			NumClasses:   len(d.Classes),
		}), nil
	case conf.BackendRemote:
		return remote.NewLoader(remote.Config{
			URL:         d.Remote.URL,
			DialTimeout: d.Remote.DialTimeout,
		}), nil
	default:
		return nil, errors.Newf("unknown detector backend %q", d.Backend).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("backend", d.Backend).
			Build()
	}
}

// ConfigFromSettings builds the monitor Config
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		Registry:     detection.ClassRegistry(settings.Detector.Classes),
		Threshold:    settings.Detector.Threshold,
		PollInterval: settings.Realtime.PollInterval,
		StopTimeout:  settings.Realtime.StopTimeout,
	}
}

// NewFromSettings builds a monitor with the configured backend, alert log
// sizing and, when enabled, the camera. pm may be nil.
func NewFromSettings(settings *conf.Settings, pm *metrics.PipelineMetrics) (*Monitor, error) {
	loader, err := NewLoader(settings)
	if err != nil {
		return nil, err
	}

	alertOpts := []alertlog.Option{}
	if n := settings.Realtime.Alerts.MaxEntries; n > 0 {
		alertOpts = append(alertOpts, alertlog.WithMaxEntries(n))
	}
	if n := settings.Realtime.Alerts.BufferSize; n > 0 {
		alertOpts = append(alertOpts, alertlog.WithDelivery(events.WithBufferSize(n)))
	}
	alerts := alertlog.New(alertOpts...)

	opts := []Option{
		WithAlertLog(alerts),
		WithInferenceTimeout(settings.Detector.Timeout),
	}
	if pm != nil {
		opts = append(opts, WithMetrics(pm))
	}
	if cam := settings.Realtime.Camera; cam.Device != "" {
		opts = append(opts, WithCamera(webcam.Opener(&settings.Realtime.Camera),
			capture.WithCaptureInterval(cam.CaptureInterval),
			capture.WithCameraName(fmt.Sprintf("camera-%s", cam.Device))))
	}

	m, err := NewMonitor(ConfigFromSettings(settings), loader, opts...)
	if err != nil {
		_ = alerts.Close(closeTimeout)
		return nil, err
	}
	m.ownsAlerts = true
	return m, nil
}
