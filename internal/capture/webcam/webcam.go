// Package webcam opens local cameras and network streams through OpenCV.
package webcam

import (
	"context"
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// Device is an OpenCV VideoCapture with a reusable read buffer
type Device struct {
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	name string
}

// Open opens a camera by index ("0") or a stream/file URL
func Open(device string, width, height int) (*Device, error) {
	var id any = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryAcquisition).
			Context("operation", "open-video-capture").
			Build()
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, errors.Newf("camera %s did not open", device).
			Component("capture").
			Category(errors.CategoryAcquisition).
			Build()
	}

	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	GetLogger().Info("camera opened",
		logger.String("device", device),
		logger.Int("width", int(vc.Get(gocv.VideoCaptureFrameWidth))),
		logger.Int("height", int(vc.Get(gocv.VideoCaptureFrameHeight))))

	return &Device{vc: vc, mat: gocv.NewMat(), name: device}, nil
}

// Read implements capture.Device. The returned image is a fresh allocation.
func (d *Device) Read() (image.Image, error) {
	if ok := d.vc.Read(&d.mat); !ok {
		return nil, fmt.Errorf("read from %s failed", d.name)
	}
	if d.mat.Empty() {
		return nil, fmt.Errorf("empty frame from %s", d.name)
	}
	return d.mat.ToImage()
}

// Close implements capture.Device
func (d *Device) Close() error {
	matErr := d.mat.Close()
	if err := d.vc.Close(); err != nil {
		return err
	}
	return matErr
}

// Opener returns a capture.Opener for the configured camera
func Opener(settings *conf.CameraSettings) capture.Opener {
	return func(ctx context.Context) (capture.Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Open(settings.Device, settings.Width, settings.Height)
	}
}

// GetLogger returns the capture module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("capture").Module("webcam")
}
