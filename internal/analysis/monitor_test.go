package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/detector/detectortest"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

func newTestMonitor(t *testing.T, loader detector.Loader, opts ...Option) *Monitor {
	t.Helper()
	m, err := NewMonitor(Config{
		Registry:     testRegistry,
		Threshold:    0.5,
		PollInterval: 2 * time.Millisecond,
		StopTimeout:  time.Second,
	}, loader, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func messages(m *Monitor) []string {
	entries := m.Alerts().Entries(0)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func testFrame(source string) *capture.Frame {
	return capture.NewFrame(image.NewRGBA(image.Rect(0, 0, 16, 16)), source)
}

// bySource scripts the scenario frames by their source name
func bySource(f *capture.Frame) ([]detection.RawCandidate, error) {
	switch f.Source {
	case "A":
		return []detection.RawCandidate{{ClassID: 1, Confidence: 0.6, Box: detection.BBox{X2: 10, Y2: 10}}}, nil
	case "C":
		return []detection.RawCandidate{{ClassID: 2, Confidence: 0.4, Box: detection.BBox{X2: 10, Y2: 10}}}, nil
	case "unknown":
		return []detection.RawCandidate{{ClassID: 5, Confidence: 0.95, Box: detection.BBox{X2: 10, Y2: 10}}}, nil
	default:
		return nil, nil
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestNewMonitorRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewMonitor(Config{Registry: testRegistry, Threshold: 1.5}, detectortest.NewLoader())
	require.Error(t, err)

	_, err = NewMonitor(Config{Threshold: 0.5}, detectortest.NewLoader())
	require.Error(t, err)
}

func TestMonitorStartLoadsModel(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("model.onnx", detectortest.Fixed())
	m := newTestMonitor(t, loader)

	require.NoError(t, m.Start(t.Context(), "model.onnx"))
	assert.Equal(t, []string{MsgModelLoaded}, messages(m))

	status := m.Status()
	assert.Equal(t, "running", status.Worker)
	assert.Equal(t, "stopped", status.Camera)
	assert.Equal(t, "model.onnx", status.ModelPath)
	require.NotNil(t, status.Model)
	assert.Equal(t, "scripted", status.Model.Backend)
	assert.Equal(t, testRegistry.Names(), status.Classes)
	assert.InDelta(t, 0.5, status.Threshold, 1e-9)

	err := m.Start(t.Context(), "model.onnx")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Len(t, messages(m), 1)
}

func TestMonitorStartModelNotFound(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, detectortest.NewLoader())

	err := m.Start(t.Context(), "missing.onnx")
	require.Error(t, err)
	assert.ErrorIs(t, err, detector.ErrModelNotFound)
	assert.Equal(t, []string{MsgModelNotFound}, messages(m))

	entry, ok := m.Alerts().Latest()
	require.True(t, ok)
	assert.Equal(t, alertlog.LevelError, entry.Level)

	// inert: frames are rejected and produce no alerts
	_, err = m.UpdateFrame(t.Context(), testFrame("A"))
	require.Error(t, err)
	assert.ErrorIs(t, err, detector.ErrNoModel)
	assert.Len(t, messages(m), 1)
	assert.Equal(t, "idle", m.Status().Worker)
}

func TestMonitorStartLoadFailure(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Fail("broken.onnx", fmt.Errorf("corrupt weights"))
	m := newTestMonitor(t, loader)

	require.Error(t, m.Start(t.Context(), "broken.onnx"))
	assert.Equal(t, []string{"Failed to load model: corrupt weights"}, messages(m))
}

func TestMonitorReload(t *testing.T) {
	t.Parallel()

	first := detectortest.Fixed()
	second := detectortest.Fixed()
	loader := detectortest.NewLoader().Add("a.onnx", first).Add("b.onnx", second)
	m := newTestMonitor(t, loader)

	require.NoError(t, m.Start(t.Context(), "a.onnx"))
	require.NoError(t, m.Reload(t.Context(), "b.onnx"))

	assert.Equal(t, []string{MsgModelLoaded, "Model reloaded from b.onnx"}, messages(m))
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Equal(t, []string{"a.onnx", "b.onnx"}, loader.Loads())

	status := m.Status()
	assert.Equal(t, "running", status.Worker)
	assert.Equal(t, "b.onnx", status.Model.Path)

	// empty path reloads the current model
	require.NoError(t, m.Reload(t.Context(), ""))
	assert.Equal(t, "Model reloaded from b.onnx", messages(m)[2])
}

func TestMonitorReloadFailureLeavesMonitorInert(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("a.onnx", detectortest.Fixed())
	m := newTestMonitor(t, loader)

	require.NoError(t, m.Start(t.Context(), "a.onnx"))
	require.Error(t, m.Reload(t.Context(), "gone.onnx"))

	msgs := messages(m)
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1], "Failed to reload model: "), msgs[1])
	assert.Contains(t, msgs[1], "model file not found")

	assert.Equal(t, "stopped", m.Status().Worker)
	_, err := m.UpdateFrame(t.Context(), testFrame("A"))
	assert.ErrorIs(t, err, detector.ErrNoModel)

	// a later successful reload recovers
	require.NoError(t, m.Reload(t.Context(), "a.onnx"))
	assert.Equal(t, "running", m.Status().Worker)
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("a.onnx", detectortest.Fixed())
	m := newTestMonitor(t, loader)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Start(t.Context(), "a.onnx"))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Equal(t, "stopped", m.Status().Worker)

	// starting again after a stop is allowed
	require.NoError(t, m.Start(t.Context(), "a.onnx"))
	assert.Equal(t, "running", m.Status().Worker)
}

func TestMonitorUpdateFrameScenario(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.New(bySource))
	m := newTestMonitor(t, loader)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	dets, err := m.UpdateFrame(t.Context(), testFrame("A"))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "ToolBox", dets[0].ClassName)
	assert.True(t, m.State()["ToolBox"].Detected)
	assert.Equal(t, []string{MsgModelLoaded, "ToolBox detected."}, messages(m))

	dets, err = m.UpdateFrame(t.Context(), testFrame("B"))
	require.NoError(t, err)
	assert.Empty(t, dets)
	for name, s := range m.State() {
		assert.False(t, s.Detected, name)
	}
	assert.Equal(t, []string{MsgModelLoaded, "ToolBox detected.", "ToolBox missing!"}, messages(m))

	before := m.State()
	dets, err = m.UpdateFrame(t.Context(), testFrame("C"))
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.Equal(t, before, m.State())
	assert.Len(t, messages(m), 3)

	latest := m.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, "C", latest.Frame.Source)
}

func TestMonitorRestartKeepsPresence(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.New(bySource))
	m := newTestMonitor(t, loader)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	_, err := m.UpdateFrame(t.Context(), testFrame("A"))
	require.NoError(t, err)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Start(t.Context(), "m.onnx"))
	assert.True(t, m.State()["ToolBox"].Detected, "restart must not clear presence")

	_, err = m.UpdateFrame(t.Context(), testFrame("B"))
	require.NoError(t, err)
	assert.False(t, m.State()["ToolBox"].Detected)
	assert.Equal(t, []string{MsgModelLoaded, "ToolBox detected.", MsgModelLoaded, "ToolBox missing!"}, messages(m))
}

func TestMonitorUnknownClassIsIgnored(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.New(bySource))
	m := newTestMonitor(t, loader)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	dets, err := m.UpdateFrame(t.Context(), testFrame("unknown"))
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.Equal(t, []string{MsgModelLoaded}, messages(m))
}

func TestMonitorUpdateFrameRejectsEmptyFrame(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, detectortest.NewLoader())
	_, err := m.UpdateFrame(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestMonitorSetThreshold(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.New(bySource))
	m := newTestMonitor(t, loader)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	require.Error(t, m.SetThreshold(1.5))
	require.Error(t, m.SetThreshold(-0.1))
	assert.InDelta(t, 0.5, m.Threshold(), 1e-9)

	require.NoError(t, m.SetThreshold(0.3))
	assert.InDelta(t, 0.3, m.Threshold(), 1e-9)

	// frame C's 0.4 candidate now passes
	dets, err := m.UpdateFrame(t.Context(), testFrame("C"))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "OxygenTank", dets[0].ClassName)
	assert.Contains(t, messages(m), "OxygenTank detected.")
}

func TestMonitorProcessImage(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.Fixed(
		detection.RawCandidate{ClassID: 0, Confidence: 0.9, Box: detection.BBox{X1: 1, Y1: 1, X2: 5, Y2: 5}},
	))
	m := newTestMonitor(t, loader)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	dets, err := m.ProcessImage(t.Context(), "uploads/shelf.png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, []string{MsgModelLoaded, "FireExtinguisher detected.", "Image loaded: shelf.png"}, messages(m))
	assert.Equal(t, "shelf.png", m.Latest().Frame.Source)

	_, err = m.ProcessImage(t.Context(), "junk.png", strings.NewReader("not an image"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))
	assert.Equal(t, MsgImageLoadFailed, messages(m)[3])
}

func TestMonitorProcessImageFile(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.Fixed())
	m := newTestMonitor(t, loader)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	dir := t.TempDir()
	path := filepath.Join(dir, "bay3.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t), 0o600))

	_, err := m.ProcessImageFile(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "Image loaded: bay3.png", messages(m)[1])

	_, err = m.ProcessImageFile(t.Context(), filepath.Join(dir, "nope.png"))
	require.Error(t, err)
	assert.Equal(t, MsgImageLoadFailed, messages(m)[2])
}

func TestMonitorImageWithoutModel(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, detectortest.NewLoader())
	_, err := m.ProcessImage(t.Context(), "shelf.png", bytes.NewReader(pngBytes(t)))
	assert.ErrorIs(t, err, detector.ErrNoModel)
	assert.Empty(t, messages(m))
}

type cameraDevice struct{}

func (cameraDevice) Read() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (cameraDevice) Close() error { return nil }

func TestMonitorCameraPipeline(t *testing.T) {
	t.Parallel()

	open := func(context.Context) (capture.Device, error) { return cameraDevice{}, nil }
	loader := detectortest.NewLoader().Add("m.onnx", detectortest.Fixed(
		detection.RawCandidate{ClassID: 1, Confidence: 0.8, Box: detection.BBox{X2: 4, Y2: 4}},
	))

	reg := prometheus.NewRegistry()
	pm, err := metrics.NewPipelineMetrics(reg)
	require.NoError(t, err)

	m := newTestMonitor(t, loader,
		WithMetrics(pm),
		WithCamera(open, capture.WithCaptureInterval(2*time.Millisecond)))

	var (
		mu      sync.Mutex
		results []*Result
	)
	unsub, err := m.SubscribeDetections("test", func(r *Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, m.Start(t.Context(), "m.onnx"))
	require.NoError(t, m.StartCamera(t.Context()))
	assert.Equal(t, capture.CameraRunning, m.CameraState())

	require.Eventually(t, func() bool {
		return m.State()["ToolBox"].Detected
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) > 0
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	first := results[0]
	mu.Unlock()
	assert.Equal(t, "camera", first.Frame.Source)
	require.Len(t, first.Detections, 1)

	m.StopCamera()
	assert.Equal(t, capture.CameraStopped, m.CameraState())

	msgs := messages(m)
	assert.Contains(t, msgs, capture.MsgCameraStarted)
	assert.Contains(t, msgs, "ToolBox detected.")
	assert.Contains(t, msgs, capture.MsgCameraStopped)

	assert.InDelta(t, 1, testutil.ToFloat64(pm.ModelLoadTotal.WithLabelValues("scripted", metrics.StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.ModelLoadedGauge), 0)
	assert.Positive(t, testutil.ToFloat64(pm.FramesCaptured.WithLabelValues("camera")))
	assert.Positive(t, testutil.ToFloat64(pm.DetectionCounter.WithLabelValues("ToolBox")))
}

func TestMonitorStartCameraWithoutCamera(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, detectortest.NewLoader())
	err := m.StartCamera(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Equal(t, capture.CameraStopped, m.CameraState())
	m.StopCamera()
}

func TestMonitorSubscribeAlerts(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.New(bySource))
	m := newTestMonitor(t, loader)

	got := make(chan alertlog.Entry, 8)
	unsub, err := m.SubscribeAlerts("test", func(e alertlog.Entry) { got <- e })
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, m.Start(t.Context(), "m.onnx"))
	_, err = m.UpdateFrame(t.Context(), testFrame("A"))
	require.NoError(t, err)

	for _, want := range []string{MsgModelLoaded, "ToolBox detected."} {
		select {
		case e := <-got:
			assert.Equal(t, want, e.Message)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestMonitorClose(t *testing.T) {
	t.Parallel()

	loader := detectortest.NewLoader().Add("m.onnx", detectortest.Fixed())
	m, err := NewMonitor(Config{Registry: testRegistry, Threshold: 0.5}, loader)
	require.NoError(t, err)
	require.NoError(t, m.Start(t.Context(), "m.onnx"))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err = m.Start(t.Context(), "m.onnx")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}
