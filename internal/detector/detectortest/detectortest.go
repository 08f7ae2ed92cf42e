// Package detectortest provides scripted detectors for pipeline tests.
package detectortest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
)

// Script returns the raw candidates for a frame
type Script func(frame *capture.Frame) ([]detection.RawCandidate, error)

// Detector is a detector.Detector driven by a Script. It records the
// sequence number of every frame it sees.
type Detector struct {
	script Script

	mu     sync.Mutex
	seen   []uint64
	closed atomic.Bool

	// Gate, when non-nil, blocks Infer until it receives a value or ctx ends
	Gate chan struct{}
	// Entered, when non-nil, receives the frame Seq each time Infer starts
	Entered chan uint64
}

// New returns a scripted detector
func New(script Script) *Detector {
	return &Detector{script: script}
}

// Fixed returns a detector that always reports raw
func Fixed(raw ...detection.RawCandidate) *Detector {
	return New(func(*capture.Frame) ([]detection.RawCandidate, error) {
		return append([]detection.RawCandidate(nil), raw...), nil
	})
}

// Infer implements detector.Detector
func (d *Detector) Infer(ctx context.Context, frame *capture.Frame, _ float64) ([]detection.RawCandidate, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("detector closed")
	}
	if d.Entered != nil {
		d.Entered <- frame.Seq
	}
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	d.seen = append(d.seen, frame.Seq)
	d.mu.Unlock()

	return d.script(frame)
}

// Close implements detector.Detector
func (d *Detector) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (d *Detector) Closed() bool { return d.closed.Load() }

// Seen returns the frame sequence numbers processed so far
func (d *Detector) Seen() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.seen...)
}

// Loader hands out detectors by model path. Unknown paths fail with
// detector.ErrModelNotFound.
type Loader struct {
	mu        sync.Mutex
	detectors map[string]*Detector
	errs      map[string]error
	loads     []string
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{
		detectors: make(map[string]*Detector),
		errs:      make(map[string]error),
	}
}

// Add registers d under path
func (l *Loader) Add(path string, d *Detector) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detectors[path] = d
	return l
}

// Fail makes loading path return err
func (l *Loader) Fail(path string, err error) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[path] = err
	return l
}

// Name implements detector.Loader
func (l *Loader) Name() string { return "scripted" }

// Load implements detector.Loader
func (l *Loader) Load(_ context.Context, path string) (detector.Detector, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loads = append(l.loads, path)
	if err, ok := l.errs[path]; ok {
		return nil, err
	}
	d, ok := l.detectors[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, detector.ErrModelNotFound)
	}
	// a reloaded detector starts open again
	d.closed.Store(false)
	return d, nil
}

// Loads returns every path passed to Load
func (l *Loader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}
