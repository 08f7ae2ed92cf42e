package capture

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/errors"
)

// Source produces frames. Capture returns nil, nil when there is nothing to deliver.
type Source interface {
	Capture() (*Frame, error)
}

// DecodeImage decodes a PNG, JPEG, BMP or WebP image and returns its format name
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.New(err).
			Component("capture").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return img, format, nil
}

// LoadImage reads and decodes an image file with a supported extension
func LoadImage(path string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(conf.ImageExtensions, ext) {
		return nil, errors.Newf("unsupported image extension %q", ext).
			Component("capture").
			Category(errors.CategoryValidation).
			Context("extension", ext).
			Build()
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("operation", "read-image").
			Build()
	}

	img, _, err := DecodeImage(bytes.NewReader(data))
	return img, err
}

// ImageSource is a one-shot source: the first Capture yields the image, every
// later call returns nil.
type ImageSource struct {
	name string
	img  image.Image
	slot *Slot
	used atomic.Bool
}

// NewImageSource wraps img. When slot is non-nil the frame is also published there.
func NewImageSource(name string, img image.Image, slot *Slot) *ImageSource {
	return &ImageSource{name: name, img: img, slot: slot}
}

// Capture implements Source
func (s *ImageSource) Capture() (*Frame, error) {
	if !s.used.CompareAndSwap(false, true) {
		return nil, nil
	}
	if s.img == nil {
		return nil, errors.Newf("image source %s has no image", s.name).
			Component("capture").
			Category(errors.CategoryImageDecode).
			Build()
	}

	f := NewFrame(s.img, s.name)
	if s.slot != nil {
		s.slot.Store(f)
	}
	return f, nil
}

// Name returns the image name
func (s *ImageSource) Name() string { return s.name }
