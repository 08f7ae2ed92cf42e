package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// Camera alert messages
const (
	MsgCameraStarted  = "Camera started."
	MsgCameraStopped  = "Camera stopped."
	MsgCameraOpenFail = "Cannot open camera."
	MsgFrameReadFail  = "Failed to read frame."
)

// DefaultCaptureInterval is the camera polling period
const DefaultCaptureInterval = 30 * time.Millisecond

// Device is an opened camera
type Device interface {
	// Read returns the next frame. The returned image must not be reused by the device.
	Read() (image.Image, error)
	Close() error
}

// Opener opens the camera device
type Opener func(ctx context.Context) (Device, error)

// AlertSink receives camera lifecycle alerts; *alertlog.Log implements it
type AlertSink interface {
	Append(level alertlog.Level, message string) alertlog.Entry
}

// CameraState is the camera lifecycle state
type CameraState int

const (
	CameraStopped CameraState = iota
	CameraRunning
)

func (s CameraState) String() string {
	if s == CameraRunning {
		return "running"
	}
	return "stopped"
}

// CameraOption configures a CameraSource
type CameraOption func(*CameraSource)

// WithCaptureInterval sets the tick period
func WithCaptureInterval(d time.Duration) CameraOption {
	return func(c *CameraSource) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFrameHook is called with every captured frame, typically for metrics
func WithFrameHook(fn func(*Frame)) CameraOption {
	return func(c *CameraSource) {
		c.onFrame = fn
	}
}

// WithCameraName sets the Frame.Source value
func WithCameraName(name string) CameraOption {
	return func(c *CameraSource) {
		c.name = name
	}
}

// CameraSource reads frames from a Device on a fixed ticker and publishes
// them to a Slot. A failed open or read moves it to CameraStopped; it must be
// started again explicitly.
type CameraSource struct {
	open     Opener
	slot     *Slot
	alerts   AlertSink
	interval time.Duration
	name     string
	onFrame  func(*Frame)
	logger   logger.Logger

	mu     sync.Mutex
	state  CameraState
	cancel context.CancelFunc
	done   chan struct{}

	devMu sync.Mutex
	dev   Device
}

// NewCameraSource creates a stopped camera source
func NewCameraSource(open Opener, slot *Slot, alerts AlertSink, opts ...CameraOption) *CameraSource {
	c := &CameraSource{
		open:     open,
		slot:     slot,
		alerts:   alerts,
		interval: DefaultCaptureInterval,
		name:     "camera",
		logger:   GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state
func (c *CameraSource) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the device and begins capturing. Starting a running camera is a no-op.
func (c *CameraSource) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CameraRunning {
		return nil
	}

	dev, err := c.open(ctx)
	if err != nil {
		c.alerts.Append(alertlog.LevelError, MsgCameraOpenFail)
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryAcquisition).
			Context("operation", "open-camera").
			Context("device", c.name).
			Build()
	}

	c.devMu.Lock()
	c.dev = dev
	c.devMu.Unlock()

	// the capture loop outlives the request that started it
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.state = CameraRunning
	c.cancel = cancel
	c.done = done

	c.logger.Info("camera started",
		logger.String("device", c.name),
		logger.Duration("interval", c.interval))
	c.alerts.Append(alertlog.LevelInfo, MsgCameraStarted)

	go c.run(loopCtx, dev, done)
	return nil
}

// Stop halts capture and waits for the loop to exit. Stopping a stopped camera is a no-op.
func (c *CameraSource) Stop() {
	c.mu.Lock()
	if c.state != CameraRunning {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.state = CameraStopped
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	<-done

	c.logger.Info("camera stopped", logger.String("device", c.name))
	c.alerts.Append(alertlog.LevelInfo, MsgCameraStopped)
}

func (c *CameraSource) run(ctx context.Context, dev Device, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeDevice(dev)
			return
		case <-ticker.C:
			if _, err := c.Capture(); err != nil {
				// close before the state flips so a restart never sees this device
				c.closeDevice(dev)
				c.fail(done, err)
				return
			}
		}
	}
}

// fail handles a read error from the loop identified by done
func (c *CameraSource) fail(done chan struct{}, err error) {
	c.logger.Error("camera read failed", logger.String("device", c.name), logger.Error(err))
	c.alerts.Append(alertlog.LevelError, MsgFrameReadFail)

	c.mu.Lock()
	owned := c.done == done
	if owned {
		c.cancel()
		c.state = CameraStopped
		c.cancel, c.done = nil, nil
	}
	c.mu.Unlock()

	// a concurrent Stop reports the stop itself
	if owned {
		c.alerts.Append(alertlog.LevelInfo, MsgCameraStopped)
	}
}

// Capture reads one frame from the open device and publishes it. It returns
// nil, nil when the camera is not open.
func (c *CameraSource) Capture() (*Frame, error) {
	c.devMu.Lock()
	defer c.devMu.Unlock()

	if c.dev == nil {
		return nil, nil
	}

	img, err := c.dev.Read()
	if err == nil && img == nil {
		err = errors.NewStd("device returned an empty frame")
	}
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryAcquisition).
			Context("operation", "read-frame").
			Context("device", c.name).
			Build()
	}

	f := NewFrame(img, c.name)
	c.slot.Store(f)
	if c.onFrame != nil {
		c.onFrame(f)
	}
	return f, nil
}

func (c *CameraSource) closeDevice(dev Device) {
	c.devMu.Lock()
	if c.dev == dev {
		c.dev = nil
	}
	c.devMu.Unlock()

	if err := dev.Close(); err != nil {
		c.logger.Warn("failed to close camera", logger.String("device", c.name), logger.Error(err))
	}
}
