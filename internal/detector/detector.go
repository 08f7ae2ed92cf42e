// Package detector wraps the object detection model. The model is treated as
// an opaque synchronous function; backends live in subpackages.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// ErrModelNotFound is wrapped by loaders when the weights file does not exist
var ErrModelNotFound = errors.NewStd("model file not found")

// ErrNoModel is returned by Manager.Infer while no model is loaded
var ErrNoModel = errors.NewStd("no model loaded")

// Detector runs the model on one frame. threshold lets backends skip
// candidates early; callers still filter the output.
type Detector interface {
	Infer(ctx context.Context, frame *capture.Frame, threshold float64) ([]detection.RawCandidate, error)
	Close() error
}

// Loader creates a Detector from a model path
type Loader interface {
	Name() string
	Load(ctx context.Context, modelPath string) (Detector, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc struct {
	LoaderName string
	Fn         func(ctx context.Context, modelPath string) (Detector, error)
}

func (l LoaderFunc) Name() string { return l.LoaderName }

func (l LoaderFunc) Load(ctx context.Context, modelPath string) (Detector, error) {
	return l.Fn(ctx, modelPath)
}

// ModelInfo describes the loaded model
type ModelInfo struct {
	Path     string    `json:"path"`
	Backend  string    `json:"backend"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Manager owns the current Detector. Inference holds the read lock for the
// whole call and Load holds the write lock, so a model is never swapped or
// closed while an inference on it is in flight.
type Manager struct {
	loader  Loader
	timeout time.Duration
	logger  logger.Logger

	mu   sync.RWMutex
	det  Detector
	info ModelInfo
}

// NewManager creates a manager with no model loaded. timeout bounds each
// Infer call; zero disables it.
func NewManager(loader Loader, timeout time.Duration) *Manager {
	return &Manager{
		loader:  loader,
		timeout: timeout,
		logger:  GetLogger(),
	}
}

// Load replaces the current model with one loaded from modelPath. On failure
// the previous model is already closed and the manager stays empty.
func (m *Manager) Load(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	start := time.Now()
	det, err := m.loader.Load(ctx, modelPath)
	if err != nil {
		m.logger.Error("model load failed",
			logger.String("backend", m.loader.Name()),
			logger.String("path", modelPath),
			logger.Error(err))
		return errors.New(err).
			Component("detector").
			Category(errors.CategoryModelLoad).
			ModelContext(modelPath).
			Context("backend", m.loader.Name()).
			Build()
	}

	m.det = det
	m.info = ModelInfo{Path: modelPath, Backend: m.loader.Name(), LoadedAt: time.Now()}
	m.logger.Info("model loaded",
		logger.String("backend", m.loader.Name()),
		logger.String("path", modelPath),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// Unload closes the current model, if any
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.det == nil {
		return
	}
	if err := m.det.Close(); err != nil {
		m.logger.Warn("failed to close model", logger.String("path", m.info.Path), logger.Error(err))
	}
	m.det = nil
	m.info = ModelInfo{}
}

// Loaded reports whether a model is available
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.det != nil
}

// Info returns the loaded model description and whether one is loaded
func (m *Manager) Info() (ModelInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info, m.det != nil
}

// Infer runs the current model on frame
func (m *Manager) Infer(ctx context.Context, frame *capture.Frame, threshold float64) ([]detection.RawCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.det == nil {
		return nil, errors.New(ErrNoModel).
			Component("detector").
			Category(errors.CategoryState).
			Build()
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := m.det.Infer(ctx, frame, threshold)
	if err != nil {
		category := errors.CategoryInference
		if errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return nil, errors.New(err).
			Component("detector").
			Category(category).
			Timing("infer", time.Since(start)).
			Build()
	}
	return raw, nil
}

// Close unloads the model
func (m *Manager) Close() error {
	m.Unload()
	return nil
}
