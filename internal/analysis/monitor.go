package analysis

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/analysis/processor"
	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/events"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// Lifecycle alert messages
const (
	MsgModelLoaded       = "Model loaded successfully."
	MsgModelNotFound     = "Model file not found. Please train the model first."
	MsgModelLoadFailed   = "Failed to load model: %v"
	MsgModelReloaded     = "Model reloaded from %s"
	MsgModelReloadFailed = "Failed to reload model: %v"
	MsgImageLoaded       = "Image loaded: %s"
	MsgImageLoadFailed   = "Failed to load image."
)

const closeTimeout = 5 * time.Second

// Config holds the pipeline parameters fixed at construction
type Config struct {
	Registry     detection.ClassRegistry
	Threshold    float64
	PollInterval time.Duration
	StopTimeout  time.Duration
}

// Option configures a Monitor
type Option func(*Monitor)

// WithAlertLog uses an existing alert log instead of creating one. The
// caller keeps ownership and closes it.
func WithAlertLog(l *alertlog.Log) Option {
	return func(m *Monitor) {
		m.alerts = l
	}
}

// WithMetrics records pipeline metrics
func WithMetrics(pm *metrics.PipelineMetrics) Option {
	return func(m *Monitor) {
		m.metrics = pm
	}
}

// WithCamera enables StartCamera using open
func WithCamera(open capture.Opener, opts ...capture.CameraOption) Option {
	return func(m *Monitor) {
		m.cameraOpener = open
		m.cameraOpts = opts
	}
}

// WithInferenceTimeout bounds each detector call
func WithInferenceTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.inferTimeout = d
	}
}

// Monitor is the pipeline facade. It owns the frame slot, the detector, the
// presence tracker and the alert log, and serializes lifecycle operations.
type Monitor struct {
	cfg     Config
	loader  detector.Loader
	models  *detector.Manager
	alerts  *alertlog.Log
	proc    *processor.Processor
	slot    *capture.Slot
	camera  *capture.CameraSource
	results *events.Broker[*Result]
	metrics *metrics.PipelineMetrics
	logger  logger.Logger

	cameraOpener capture.Opener
	cameraOpts   []capture.CameraOption
	inferTimeout time.Duration
	ownsAlerts   bool
	unsubMetrics func()

	filter atomic.Pointer[detection.Config]
	latest atomic.Pointer[Result]

	// mu serializes Start, Stop, Reload and Close
	mu        sync.Mutex
	worker    *Worker
	modelPath string
	closed    bool

	// procMu serializes presence updates from the worker and the one-shot path
	procMu sync.Mutex
}

// NewMonitor creates a stopped monitor. No model is loaded until Start.
func NewMonitor(cfg Config, loader detector.Loader, opts ...Option) (*Monitor, error) {
	filter := detection.Config{ConfidenceThreshold: cfg.Threshold, Registry: cfg.Registry}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	m := &Monitor{
		cfg:    cfg,
		loader: loader,
		slot:   &capture.Slot{},
		logger: GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.alerts == nil {
		m.alerts = alertlog.New()
		m.ownsAlerts = true
	}
	m.filter.Store(&filter)
	m.models = detector.NewManager(loader, m.inferTimeout)
	m.proc = processor.New(cfg.Registry, m.alerts, m.metrics)
	m.results = events.NewBroker[*Result]("detections", events.WithLogger(m.logger))

	if m.cameraOpener != nil {
		camOpts := append([]capture.CameraOption{capture.WithFrameHook(m.onFrame)}, m.cameraOpts...)
		m.camera = capture.NewCameraSource(m.cameraOpener, m.slot, m.alerts, camOpts...)
	}

	if m.metrics != nil {
		unsub, err := m.alerts.Subscribe("pipeline-metrics", m.recordAlert)
		if err != nil {
			return nil, err
		}
		m.unsubMetrics = unsub
	}

	return m, nil
}

func (m *Monitor) onFrame(f *capture.Frame) {
	m.metrics.RecordFrameCaptured(f.Source)
}

func (m *Monitor) recordAlert(e alertlog.Entry) {
	m.metrics.RecordAlert(e.Level.String())
	switch e.Message {
	case capture.MsgCameraStarted:
		m.metrics.SetCameraRunning(true)
	case capture.MsgCameraStopped:
		m.metrics.SetCameraRunning(false)
	}
}

// Start loads the model at modelPath and starts the inference worker. If
// the model cannot be loaded the monitor stays inert: no worker runs and no
// detections are produced until a successful Reload.
func (m *Monitor) Start(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpenLocked(); err != nil {
		return err
	}
	if m.worker != nil && m.worker.State() == WorkerRunning {
		return errors.Newf("monitor is already running").
			Component("analysis").
			Category(errors.CategoryState).
			Build()
	}

	m.modelPath = modelPath
	if err := m.models.Load(ctx, modelPath); err != nil {
		m.metrics.RecordModelLoad(m.loader.Name(), err)
		if errors.Is(err, detector.ErrModelNotFound) {
			m.alerts.Append(alertlog.LevelError, MsgModelNotFound)
		} else {
			m.alerts.Appendf(alertlog.LevelError, MsgModelLoadFailed, err)
		}
		return err
	}
	m.metrics.RecordModelLoad(m.loader.Name(), nil)
	m.alerts.Append(alertlog.LevelInfo, MsgModelLoaded)

	// presence carries over a restart; the next processed frame emits any edges
	return m.startWorkerLocked(ctx)
}

// Stop stops the inference worker and waits for it to exit. Stopping a
// stopped monitor does nothing.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopWorkerLocked()
}

// Reload stops the worker, swaps the model and restarts the worker. An
// empty modelPath reloads the current path. On failure the old model is
// gone and the monitor stays inert.
func (m *Monitor) Reload(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpenLocked(); err != nil {
		return err
	}
	if modelPath == "" {
		modelPath = m.modelPath
	}

	if err := m.stopWorkerLocked(); err != nil {
		// the manager still waits for any in-flight inference before swapping
		m.logger.Warn("reloading with a worker that did not stop cleanly", logger.Error(err))
	}

	m.modelPath = modelPath
	if err := m.models.Load(ctx, modelPath); err != nil {
		m.metrics.RecordModelLoad(m.loader.Name(), err)
		m.alerts.Appendf(alertlog.LevelError, MsgModelReloadFailed, err)
		return err
	}
	m.metrics.RecordModelLoad(m.loader.Name(), nil)
	m.alerts.Appendf(alertlog.LevelInfo, MsgModelReloaded, modelPath)

	return m.startWorkerLocked(ctx)
}

func (m *Monitor) checkOpenLocked() error {
	if m.closed {
		return errors.Newf("monitor is closed").
			Component("analysis").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

func (m *Monitor) startWorkerLocked(ctx context.Context) error {
	w := NewWorker(m.slot, m.models, m.filterConfig, m.publish,
		WithPollInterval(m.cfg.PollInterval),
		WithStopTimeout(m.cfg.StopTimeout),
		WithWorkerMetrics(m.metrics, m.loader.Name()))
	if err := w.Start(ctx); err != nil {
		return err
	}
	m.worker = w
	return nil
}

func (m *Monitor) stopWorkerLocked() error {
	if m.worker == nil {
		return nil
	}
	return m.worker.Stop()
}

// publish applies a Result to the presence state and hands it to
// subscribers. Alerts caused by the Result are appended before subscribers
// see it.
func (m *Monitor) publish(res *Result) {
	m.procMu.Lock()
	defer m.procMu.Unlock()

	m.proc.Process(res.Detections, res.ProcessedAt)
	m.latest.Store(res)
	m.results.TryPublish(res)
}

// UpdateFrame runs the detector on frame synchronously, bypassing the
// worker, and applies the result like a frame from the camera.
func (m *Monitor) UpdateFrame(ctx context.Context, frame *capture.Frame) ([]detection.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, errors.Newf("empty frame").
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}

	cfg := m.filterConfig()
	start := time.Now()
	raw, err := m.models.Infer(ctx, frame, cfg.ConfidenceThreshold)
	elapsed := time.Since(start)
	if err != nil {
		m.metrics.RecordInference(m.loader.Name(), elapsed.Seconds(), errorCategory(err))
		return nil, err
	}
	m.metrics.RecordInference(m.loader.Name(), elapsed.Seconds(), "")

	detections, drops := detection.FilterWithDrops(raw, cfg)
	recordDrops(m.metrics, drops)

	m.publish(&Result{
		Frame:       frame,
		Detections:  detections,
		Elapsed:     elapsed,
		ProcessedAt: time.Now(),
	})
	return detections, nil
}

// ProcessImage decodes an uploaded image and runs it through UpdateFrame
func (m *Monitor) ProcessImage(ctx context.Context, name string, r io.Reader) ([]detection.Detection, error) {
	img, _, err := capture.DecodeImage(r)
	if err != nil {
		m.alerts.Append(alertlog.LevelError, MsgImageLoadFailed)
		return nil, err
	}
	return m.processImage(ctx, name, img)
}

// ProcessImageFile loads an image from disk and runs it through UpdateFrame
func (m *Monitor) ProcessImageFile(ctx context.Context, path string) ([]detection.Detection, error) {
	img, err := capture.LoadImage(path)
	if err != nil {
		m.alerts.Append(alertlog.LevelError, MsgImageLoadFailed)
		return nil, err
	}
	return m.processImage(ctx, path, img)
}

func (m *Monitor) processImage(ctx context.Context, name string, img image.Image) ([]detection.Detection, error) {
	base := filepath.Base(name)
	frame, err := capture.NewImageSource(base, img, nil).Capture()
	if err != nil {
		return nil, err
	}

	detections, err := m.UpdateFrame(ctx, frame)
	if err != nil {
		return nil, err
	}
	m.alerts.Appendf(alertlog.LevelInfo, MsgImageLoaded, base)
	return detections, nil
}

// State returns a copy of the presence state of every class
func (m *Monitor) State() map[string]processor.EquipmentState {
	return m.proc.State()
}

// Latest returns the most recent Result from either path, or nil
func (m *Monitor) Latest() *Result {
	return m.latest.Load()
}

// SubscribeAlerts delivers every later alert to fn, in append order
func (m *Monitor) SubscribeAlerts(name string, fn func(alertlog.Entry)) (func(), error) {
	return m.alerts.Subscribe(name, fn)
}

// SubscribeDetections delivers every later Result to fn, in publish order
func (m *Monitor) SubscribeDetections(name string, fn func(*Result)) (func(), error) {
	return m.results.Subscribe(name, fn)
}

// Alerts returns the alert log
func (m *Monitor) Alerts() *alertlog.Log {
	return m.alerts
}

// StartCamera opens the camera and begins publishing frames
func (m *Monitor) StartCamera(ctx context.Context) error {
	if m.camera == nil {
		return errNoCamera()
	}
	return m.camera.Start(ctx)
}

// StopCamera stops the camera if it is running
func (m *Monitor) StopCamera() {
	if m.camera == nil {
		return
	}
	m.camera.Stop()
}

// CameraState reports the camera state; without a camera it is always stopped
func (m *Monitor) CameraState() capture.CameraState {
	if m.camera == nil {
		return capture.CameraStopped
	}
	return m.camera.State()
}

func errNoCamera() error {
	return errors.Newf("no camera configured").
		Component("analysis").
		Category(errors.CategoryConfiguration).
		Build()
}

// SetThreshold changes the confidence threshold used from the next frame on
func (m *Monitor) SetThreshold(threshold float64) error {
	cfg := m.filterConfig().WithThreshold(threshold)
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.filter.Store(&cfg)
	m.logger.Info("confidence threshold updated", logger.Float64("threshold", threshold))
	return nil
}

// Threshold returns the current confidence threshold
func (m *Monitor) Threshold() float64 {
	return m.filterConfig().ConfidenceThreshold
}

func (m *Monitor) filterConfig() detection.Config {
	return *m.filter.Load()
}

// Status summarizes the pipeline for the API
type Status struct {
	Worker    string              `json:"worker"`
	Camera    string              `json:"camera"`
	ModelPath string              `json:"model_path,omitempty"`
	Model     *detector.ModelInfo `json:"model,omitempty"`
	Threshold float64             `json:"threshold"`
	Classes   []string            `json:"classes"`
	LastAlert uint64              `json:"last_alert_seq"`
	Alerts    events.Stats        `json:"alert_delivery"`
}

// Status returns a point-in-time summary
func (m *Monitor) Status() Status {
	m.mu.Lock()
	worker := WorkerIdle
	if m.worker != nil {
		worker = m.worker.State()
	}
	path := m.modelPath
	m.mu.Unlock()

	s := Status{
		Worker:    worker.String(),
		Camera:    m.CameraState().String(),
		ModelPath: path,
		Threshold: m.Threshold(),
		Classes:   m.cfg.Registry.Names(),
		LastAlert: m.alerts.LastSeq(),
		Alerts:    m.alerts.Stats(),
	}
	if info, ok := m.models.Info(); ok {
		s.Model = &info
	}
	return s
}

// Close stops the camera and the worker, unloads the model and stops
// subscriber delivery. The monitor cannot be restarted.
func (m *Monitor) Close() error {
	m.StopCamera()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if err := m.stopWorkerLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := m.models.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.results.Shutdown(closeTimeout); err != nil {
		errs = append(errs, err)
	}
	if m.unsubMetrics != nil {
		m.unsubMetrics()
	}
	if m.ownsAlerts {
		if err := m.alerts.Close(closeTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
