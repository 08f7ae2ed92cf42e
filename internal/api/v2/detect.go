// internal/api/v2/detect.go
package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/stationsafe/scanner-go/internal/analysis/processor"
	"github.com/stationsafe/scanner-go/internal/detection"
)

// DefaultMaxUploadBytes caps a single uploaded image
const DefaultMaxUploadBytes = 20 << 20

// DetectResponse is the result of a one-shot image analysis
type DetectResponse struct {
	Source     string                              `json:"source"`
	Detections []detection.Detection               `json:"detections"`
	Equipment  map[string]processor.EquipmentState `json:"equipment"`
}

func (c *Controller) initDetectRoutes() {
	c.Group.POST("/detect", c.DetectImage)
}

// DetectImage runs an uploaded image (multipart field "image") through the
// pipeline exactly like a camera frame
func (c *Controller) DetectImage(ctx echo.Context) error {
	fh, err := ctx.FormFile("image")
	if err != nil {
		return c.HandleError(ctx, err, "Missing image file", http.StatusBadRequest)
	}
	if fh.Size > c.maxUploadBytes {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("Image exceeds %d bytes", c.maxUploadBytes), http.StatusRequestEntityTooLarge)
	}

	f, err := fh.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusBadRequest)
	}
	defer f.Close()

	name := filepath.Base(fh.Filename)
	detections, err := c.Monitor.ProcessImage(ctx.Request().Context(), name, io.LimitReader(f, c.maxUploadBytes))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to analyze image", statusFor(err))
	}
	if detections == nil {
		detections = []detection.Detection{}
	}

	return ctx.JSON(http.StatusOK, DetectResponse{
		Source:     name,
		Detections: detections,
		Equipment:  c.Monitor.State(),
	})
}
