package file

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/detector/detectortest"
)

func oxygenTank(*capture.Frame) ([]detection.RawCandidate, error) {
	return []detection.RawCandidate{{ClassID: 2, Confidence: 0.8, Box: detection.BBox{X1: 2, Y1: 2, X2: 10, Y2: 12}}}, nil
}

func newMonitor(t *testing.T) *analysis.Monitor {
	t.Helper()
	loader := detectortest.NewLoader().Add("best.onnx", detectortest.New(oxygenTank))
	monitor, err := analysis.NewMonitor(analysis.Config{
		Registry:     detection.ClassRegistry{"FireExtinguisher", "ToolBox", "OxygenTank"},
		Threshold:    0.5,
		PollInterval: 5 * time.Millisecond,
	}, loader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = monitor.Close() })
	return monitor
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rack.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 32, 32))))
	require.NoError(t, f.Close())
	return path
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	path := writePNG(t)

	report, err := Analyze(t.Context(), newMonitor(t), "best.onnx", path)
	require.NoError(t, err)

	require.Len(t, report.Detections, 1)
	assert.Equal(t, "OxygenTank", report.Detections[0].ClassName)
	assert.True(t, report.Equipment["OxygenTank"].Detected)
	assert.False(t, report.Equipment["ToolBox"].Detected)

	messages := make([]string, 0, len(report.Alerts))
	for _, e := range report.Alerts {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{
		analysis.MsgModelLoaded,
		"OxygenTank detected.",
		"Image loaded: rack.png",
	}, messages)
}

func TestAnalyzeMissingModel(t *testing.T) {
	t.Parallel()
	_, err := Analyze(t.Context(), newMonitor(t), "missing.onnx", writePNG(t))
	require.ErrorIs(t, err, detector.ErrModelNotFound)
}

func TestAnalyzeBadImage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))

	_, err := Analyze(t.Context(), newMonitor(t), "best.onnx", path)
	require.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	t.Parallel()
	report := &Report{Image: "rack.png", Detections: []detection.Detection{}}

	var compact, pretty bytes.Buffer
	require.NoError(t, writeReport(&compact, report, false))
	require.NoError(t, writeReport(&pretty, report, true))

	assert.Equal(t, 1, bytes.Count(compact.Bytes(), []byte("\n")))
	assert.Greater(t, bytes.Count(pretty.Bytes(), []byte("\n")), 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(compact.Bytes(), &decoded))
	assert.Equal(t, "rack.png", decoded["image"])
	assert.Equal(t, []any{}, decoded["detections"])
}
