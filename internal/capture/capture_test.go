package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/errors"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Append(level alertlog.Level, message string) alertlog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, level.String()+" "+message)
	return alertlog.Entry{Level: level, Message: message}
}

func (r *recordingSink) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type fakeDevice struct {
	reads    atomic.Int32
	failAt   int32 // read number that fails, 0 never
	closed   atomic.Bool
	closeErr error
}

func (d *fakeDevice) Read() (image.Image, error) {
	n := d.reads.Add(1)
	if d.failAt > 0 && n >= d.failAt {
		return nil, fmt.Errorf("device unplugged")
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: uint8(n), A: 255})
	return img, nil
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return d.closeErr
}

func openerFor(devs ...*fakeDevice) Opener {
	var i atomic.Int32
	return func(context.Context) (Device, error) {
		n := int(i.Add(1)) - 1
		if n >= len(devs) {
			return nil, fmt.Errorf("no device")
		}
		return devs[n], nil
	}
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSlotLastWriterWins(t *testing.T) {
	t.Parallel()

	var s Slot
	assert.Nil(t, s.Load())

	first := NewFrame(solid(2, 2, color.White), "a")
	second := NewFrame(solid(2, 2, color.Black), "b")
	s.Store(first)
	s.Store(second)

	assert.Same(t, second, s.Load())
	assert.Greater(t, second.Seq, first.Seq)

	s.Clear()
	assert.Nil(t, s.Load())
}

func TestNewFrameCopiesPixels(t *testing.T) {
	t.Parallel()

	src := solid(3, 3, color.RGBA{R: 10, A: 255})
	f := NewFrame(src, "test")

	// drawing on the source after publish must not reach the frame
	src.Set(1, 1, color.RGBA{G: 200, A: 255})
	r, g, _, _ := f.Image.At(1, 1).RGBA()
	assert.Equal(t, uint32(10*0x101), r)
	assert.Zero(t, g)
	assert.Equal(t, image.Rect(0, 0, 3, 3), f.Bounds())
}

func TestCloneImageConvertsOtherModels(t *testing.T) {
	t.Parallel()

	gray := image.NewGray(image.Rect(2, 2, 6, 5))
	gray.SetGray(3, 3, color.Gray{Y: 128})

	clone := CloneImage(gray)
	require.NotNil(t, clone)
	assert.Equal(t, gray.Bounds(), clone.Bounds())
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, clone.RGBAAt(3, 3))
	assert.Nil(t, CloneImage(nil))
}

func TestImageSourceIsOneShot(t *testing.T) {
	t.Parallel()

	var slot Slot
	src := NewImageSource("station.png", solid(2, 2, color.White), &slot)

	f, err := src.Capture()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "station.png", f.Source)
	assert.Same(t, f, slot.Load())

	for range 3 {
		f, err = src.Capture()
		require.NoError(t, err)
		assert.Nil(t, f)
	}
}

func TestDecodeImage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(5, 4, color.White)))

	img, format, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 5, 4), img.Bounds())

	_, _, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))
}

func TestLoadImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "module.PNG")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(2, 2, color.Black)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	_, err = LoadImage(filepath.Join(dir, "notes.txt"))
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = LoadImage(filepath.Join(dir, "missing.jpg"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestCameraPublishesFramesUntilStopped(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	sink := &recordingSink{}
	var slot Slot
	var hooked atomic.Int32
	cam := NewCameraSource(openerFor(dev), &slot, sink,
		WithCaptureInterval(time.Millisecond),
		WithCameraName("cam0"),
		WithFrameHook(func(*Frame) { hooked.Add(1) }))

	require.NoError(t, cam.Start(t.Context()))
	// second start is a no-op
	require.NoError(t, cam.Start(t.Context()))
	assert.Equal(t, CameraRunning, cam.State())

	require.Eventually(t, func() bool { return dev.reads.Load() >= 3 }, time.Second, time.Millisecond)

	cam.Stop()
	cam.Stop()

	assert.Equal(t, CameraStopped, cam.State())
	assert.True(t, dev.closed.Load())
	assert.GreaterOrEqual(t, hooked.Load(), int32(3))

	f := slot.Load()
	require.NotNil(t, f)
	assert.Equal(t, "cam0", f.Source)
	assert.Equal(t, []string{"INFO " + MsgCameraStarted, "INFO " + MsgCameraStopped}, sink.messages())

	f, err := cam.Capture()
	require.NoError(t, err)
	assert.Nil(t, f, "stopped camera delivers nothing")
}

func TestCameraReadFailureStopsSource(t *testing.T) {
	t.Parallel()

	first := &fakeDevice{failAt: 3}
	second := &fakeDevice{}
	sink := &recordingSink{}
	var slot Slot
	cam := NewCameraSource(openerFor(first, second), &slot, sink, WithCaptureInterval(time.Millisecond))

	require.NoError(t, cam.Start(t.Context()))
	require.Eventually(t, func() bool { return len(sink.messages()) == 3 }, time.Second, time.Millisecond)

	assert.Equal(t, CameraStopped, cam.State())
	assert.True(t, first.closed.Load())
	assert.Equal(t, int32(3), first.reads.Load(), "no reads after the failure")
	assert.Equal(t, []string{
		"INFO " + MsgCameraStarted,
		"ERROR " + MsgFrameReadFail,
		"INFO " + MsgCameraStopped,
	}, sink.messages())

	// Stop on an already failed camera does nothing
	cam.Stop()
	assert.Len(t, sink.messages(), 3)

	// explicit restart opens a fresh device
	require.NoError(t, cam.Start(t.Context()))
	require.Eventually(t, func() bool { return second.reads.Load() > 0 }, time.Second, time.Millisecond)
	cam.Stop()
	assert.True(t, second.closed.Load())
}

func TestCameraOpenFailure(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	var slot Slot
	cam := NewCameraSource(openerFor(), &slot, sink)

	err := cam.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAcquisition))
	assert.Equal(t, CameraStopped, cam.State())
	assert.Equal(t, []string{"ERROR " + MsgCameraOpenFail}, sink.messages())
	assert.Nil(t, slot.Load())
}
