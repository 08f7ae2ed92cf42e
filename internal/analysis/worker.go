package analysis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// Worker defaults
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopTimeout  = 5 * time.Second
)

// WorkerState is the inference worker lifecycle state. A worker moves
// Idle -> Running -> Stopping -> Stopped and is never restarted; a new
// worker is created instead.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerStopping
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// Result pairs a frame with the detections computed from it. A Result is
// never modified after it is published.
type Result struct {
	Frame       *capture.Frame
	Detections  []detection.Detection
	Elapsed     time.Duration // detector time
	ProcessedAt time.Time
}

// Inferer runs the detector; *detector.Manager implements it
type Inferer interface {
	Infer(ctx context.Context, frame *capture.Frame, threshold float64) ([]detection.RawCandidate, error)
}

// ConfigFunc returns the filter configuration for the next frame
type ConfigFunc func() detection.Config

// ResultHandler is called on the worker goroutine for every published Result
type ResultHandler func(*Result)

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithPollInterval sets the sleep between checks of an empty or unchanged slot
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the loop to exit
func WithStopTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.stopTimeout = d
		}
	}
}

// WithWorkerMetrics records per-frame metrics
func WithWorkerMetrics(m *metrics.PipelineMetrics, backend string) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
		w.backend = backend
	}
}

// Worker takes the latest frame from the slot, runs the detector and the
// filter on it and publishes the pair as one Result. Frames replaced in the
// slot before the worker reads them are skipped.
type Worker struct {
	slot    *capture.Slot
	infer   Inferer
	config  ConfigFunc
	handle  ResultHandler
	metrics *metrics.PipelineMetrics
	backend string
	logger  logger.Logger

	pollInterval time.Duration
	stopTimeout  time.Duration

	state  atomic.Int32
	latest atomic.Pointer[Result]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the loop goroutine
	lastSeq uint64
}

// NewWorker creates an idle worker. handle may be nil.
func NewWorker(slot *capture.Slot, infer Inferer, config ConfigFunc, handle ResultHandler, opts ...WorkerOption) *Worker {
	w := &Worker{
		slot:         slot,
		infer:        infer,
		config:       config,
		handle:       handle,
		pollInterval: DefaultPollInterval,
		stopTimeout:  DefaultStopTimeout,
		logger:       GetLogger().Module("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current lifecycle state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Latest returns the most recently published Result, or nil
func (w *Worker) Latest() *Result {
	return w.latest.Load()
}

// Start launches the loop. Only an idle worker can be started.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerRunning)) {
		return errors.Newf("worker cannot start from state %s", w.State()).
			Component("analysis").
			Category(errors.CategoryState).
			Build()
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	w.metrics.SetWorkerRunning(true)
	w.logger.Info("inference worker started", logger.Duration("poll_interval", w.pollInterval))

	go w.run(loopCtx, done)
	return nil
}

// Stop asks the loop to exit and waits for it, up to the stop timeout.
// Calling Stop on a worker that is not running does nothing.
func (w *Worker) Stop() error {
	if !w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping)) {
		return nil
	}

	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		w.logger.Info("inference worker stopped")
		return nil
	case <-timer.C:
		w.logger.Warn("inference worker did not stop in time", logger.Duration("timeout", w.stopTimeout))
		return errors.Newf("inference worker did not stop within %s", w.stopTimeout).
			Component("analysis").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Done is closed when the loop has exited
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		w.state.Store(int32(WorkerStopped))
		w.metrics.SetWorkerRunning(false)
	}()

	idle := time.NewTimer(w.pollInterval)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		frame := w.slot.Load()
		if frame == nil || frame.Seq == w.lastSeq {
			idle.Reset(w.pollInterval)
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		w.process(ctx, frame)
	}
}

func (w *Worker) process(ctx context.Context, frame *capture.Frame) {
	if w.lastSeq != 0 && frame.Seq > w.lastSeq+1 {
		w.metrics.RecordFramesSkipped(int(frame.Seq - w.lastSeq - 1))
	}
	// a frame is attempted once, even if inference fails
	w.lastSeq = frame.Seq

	cfg := w.config()
	start := time.Now()
	raw, err := w.infer.Infer(ctx, frame, cfg.ConfidenceThreshold)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.metrics.RecordInference(w.backend, elapsed.Seconds(), errorCategory(err))
		w.logger.Warn("inference failed",
			logger.Uint64("frame_seq", frame.Seq),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return
	}
	w.metrics.RecordInference(w.backend, elapsed.Seconds(), "")

	detections, drops := detection.FilterWithDrops(raw, cfg)
	recordDrops(w.metrics, drops)

	// a stopping worker must not publish
	if ctx.Err() != nil {
		return
	}

	res := &Result{
		Frame:       frame,
		Detections:  detections,
		Elapsed:     elapsed,
		ProcessedAt: time.Now(),
	}
	w.latest.Store(res)
	if w.handle != nil {
		w.handle(res)
	}
}

func recordDrops(m *metrics.PipelineMetrics, drops detection.Drops) {
	for reason, n := range drops {
		m.RecordFilterDrop(detection.DropReason(reason).String(), n)
	}
}

func errorCategory(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return string(ee.Category)
	}
	return string(errors.CategoryGeneric)
}
