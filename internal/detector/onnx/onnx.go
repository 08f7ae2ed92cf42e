// Package onnx runs YOLOv8 ONNX exports through the OpenCV DNN module.
package onnx

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// Config holds the model input parameters
type Config struct {
	InputSize    int     // square network input, pixels
	NMSThreshold float64 // IoU above which overlapping boxes are suppressed
	NumClasses   int     // expected class count, checked against the output shape
}

// Loader loads ONNX models
type Loader struct {
	cfg Config
}

// NewLoader creates an ONNX loader
func NewLoader(cfg Config) *Loader {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = 0.45
	}
	return &Loader{cfg: cfg}
}

// Name implements detector.Loader
func (l *Loader) Name() string { return "onnx" }

// Load implements detector.Loader
func (l *Loader) Load(ctx context.Context, modelPath string) (detector.Detector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(modelPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", modelPath, detector.ErrModelNotFound)
		}
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errors.Newf("OpenCV could not parse %s", modelPath).
			Component("detector").
			Category(errors.CategoryModelLoad).
			ModelContext(modelPath).
			Build()
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		_ = net.Close()
		return nil, err
	}

	GetLogger().Info("onnx model ready",
		logger.String("path", modelPath),
		logger.Int("input_size", l.cfg.InputSize))

	return &Detector{net: net, cfg: l.cfg}, nil
}

// Detector is a loaded network. gocv.Net is not safe for concurrent use, so
// calls are serialized.
type Detector struct {
	mu  sync.Mutex
	net gocv.Net
	cfg Config
}

// Infer implements detector.Detector
func (d *Detector) Infer(ctx context.Context, frame *capture.Frame, threshold float64) ([]detection.RawCandidate, error) {
	if frame == nil || frame.Image == nil {
		return nil, errors.Newf("empty frame").
			Component("detector").
			Category(errors.CategoryValidation).
			Build()
	}

	img, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer func() { _ = img.Close() }()

	size := d.cfg.InputSize
	// the mat is already RGB, so no channel swap
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer func() { _ = blob.Close() }()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer func() { _ = out.Close() }()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output rank %d", len(dims))
	}
	rows, cols := dims[1], dims[2]
	if d.cfg.NumClasses > 0 && rows != 4+d.cfg.NumClasses {
		return nil, errors.Newf("model reports %d classes, registry has %d", rows-4, d.cfg.NumClasses).
			Component("detector").
			Category(errors.CategoryModelLoad).
			Build()
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	b := frame.Image.Bounds()
	scaleX := float64(b.Dx()) / float64(size)
	scaleY := float64(b.Dy()) / float64(size)
	candidates := decodeOutput(data, rows, cols, threshold, scaleX, scaleY)

	return suppress(candidates, float32(threshold), float32(d.cfg.NMSThreshold)), nil
}

// decodeOutput reads a YOLOv8 head laid out as [4+classes][anchors]: cx, cy,
// w, h followed by one score per class. Anchors whose best score is below
// threshold are skipped.
func decodeOutput(data []float32, rows, cols int, threshold, scaleX, scaleY float64) []detection.RawCandidate {
	if rows < 5 || len(data) < rows*cols {
		return nil
	}

	var out []detection.RawCandidate
	for j := range cols {
		best, bestScore := -1, float32(0)
		for c := 4; c < rows; c++ {
			if s := data[c*cols+j]; s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || float64(bestScore) < threshold {
			continue
		}

		cx, cy := float64(data[j]), float64(data[cols+j])
		w, h := float64(data[2*cols+j]), float64(data[3*cols+j])
		out = append(out, detection.RawCandidate{
			ClassID:    best,
			Confidence: float64(bestScore),
			Box: detection.BBox{
				X1: (cx - w/2) * scaleX,
				Y1: (cy - h/2) * scaleY,
				X2: (cx + w/2) * scaleX,
				Y2: (cy + h/2) * scaleY,
			},
		})
	}
	return out
}

// suppress applies OpenCV non-maximum suppression, keeping the order NMSBoxes returns
func suppress(candidates []detection.RawCandidate, scoreThreshold, nmsThreshold float32) []detection.RawCandidate {
	if len(candidates) == 0 {
		return nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = image.Rect(int(c.Box.X1), int(c.Box.Y1), int(c.Box.X2), int(c.Box.Y2))
		scores[i] = float32(c.Confidence)
	}

	indices := gocv.NMSBoxes(boxes, scores, scoreThreshold, nmsThreshold)
	kept := make([]detection.RawCandidate, 0, len(indices))
	for _, i := range indices {
		kept = append(kept, candidates[i])
	}
	return kept
}

// Close implements detector.Detector
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// GetLogger returns the onnx backend logger
func GetLogger() logger.Logger {
	return logger.Global().Module("detector").Module("onnx")
}
