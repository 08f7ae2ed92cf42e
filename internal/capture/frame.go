// Package capture produces frames for the inference pipeline. Sources publish
// into a single-slot, last-writer-wins cell; the producer never waits for the
// consumer and unread frames are simply replaced.
package capture

import (
	"image"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Frame is an immutable snapshot of one captured image. Once published,
// neither the Frame nor its Image may be modified.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Seq        uint64 // unique per process, increasing
	Source     string // camera device or image file name
}

var frameSeq atomic.Uint64

// NewFrame copies img and stamps it with the next sequence number.
func NewFrame(img image.Image, source string) *Frame {
	return &Frame{
		Image:      CloneImage(img),
		CapturedAt: time.Now(),
		Seq:        frameSeq.Add(1),
		Source:     source,
	}
}

// Bounds returns the frame dimensions, or the empty rectangle for a nil frame
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// CloneImage returns a deep copy of img as *image.RGBA so the caller owns the
// pixels outright. A nil image returns nil.
func CloneImage(img image.Image) *image.RGBA {
	if img == nil {
		return nil
	}

	b := img.Bounds()
	dst := image.NewRGBA(b)
	if src, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(dst.Pix[dst.PixOffset(b.Min.X, y):dst.PixOffset(b.Max.X, y)],
				src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
		}
		return dst
	}

	xdraw.Copy(dst, b.Min, img, b, xdraw.Src, nil)
	return dst
}

// Slot is the single-slot handoff between a frame producer and the inference
// worker. Store replaces any unread frame; neither side ever blocks.
type Slot struct {
	p atomic.Pointer[Frame]
}

// Store publishes f, replacing the previous frame
func (s *Slot) Store(f *Frame) {
	s.p.Store(f)
}

// Load returns the most recently stored frame, or nil
func (s *Slot) Load() *Frame {
	return s.p.Load()
}

// Clear empties the slot
func (s *Slot) Clear() {
	s.p.Store(nil)
}
