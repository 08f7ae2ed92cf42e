// internal/api/v2/control.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stationsafe/scanner-go/internal/logger"
)

// Control actions
const (
	ActionStart       = "start"
	ActionStop        = "stop"
	ActionReload      = "reload"
	ActionCameraStart = "camera_start"
	ActionCameraStop  = "camera_stop"
)

// ControlResult represents the result of a control operation
type ControlResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelRequest selects a model for start and reload. An empty path means
// the configured model for start and the current model for reload.
type ModelRequest struct {
	ModelPath string `json:"model_path"`
}

// ThresholdRequest changes the confidence threshold
type ThresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

// initControlRoutes registers the lifecycle and settings endpoints
func (c *Controller) initControlRoutes() {
	controlGroup := c.Group.Group("/control")
	controlGroup.POST("/start", c.StartMonitor)
	controlGroup.POST("/stop", c.StopMonitor)
	controlGroup.POST("/reload", c.ReloadModel)

	cameraGroup := c.Group.Group("/camera")
	cameraGroup.POST("/start", c.StartCamera)
	cameraGroup.POST("/stop", c.StopCamera)

	c.Group.PUT("/settings/threshold", c.UpdateThreshold)
}

// StartMonitor loads a model and starts the inference worker
func (c *Controller) StartMonitor(ctx echo.Context) error {
	var req ModelRequest
	if err := bindOptional(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.ModelPath == "" && c.Settings != nil {
		req.ModelPath = c.Settings.Detector.ModelPath
	}

	if err := c.Monitor.Start(ctx.Request().Context(), req.ModelPath); err != nil {
		return c.HandleError(ctx, err, "Failed to start monitor", statusFor(err))
	}
	c.logger.Info("monitor started via API", logger.String("model_path", req.ModelPath))
	return c.controlResult(ctx, ActionStart, "Monitor started")
}

// StopMonitor stops the inference worker
func (c *Controller) StopMonitor(ctx echo.Context) error {
	if err := c.Monitor.Stop(); err != nil {
		return c.HandleError(ctx, err, "Failed to stop monitor", statusFor(err))
	}
	return c.controlResult(ctx, ActionStop, "Monitor stopped")
}

// ReloadModel swaps the model while the worker is paused
func (c *Controller) ReloadModel(ctx echo.Context) error {
	var req ModelRequest
	if err := bindOptional(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	if err := c.Monitor.Reload(ctx.Request().Context(), req.ModelPath); err != nil {
		return c.HandleError(ctx, err, "Failed to reload model", statusFor(err))
	}
	return c.controlResult(ctx, ActionReload, "Model reloaded")
}

// StartCamera opens the configured camera
func (c *Controller) StartCamera(ctx echo.Context) error {
	if err := c.Monitor.StartCamera(ctx.Request().Context()); err != nil {
		return c.HandleError(ctx, err, "Failed to start camera", statusFor(err))
	}
	return c.controlResult(ctx, ActionCameraStart, "Camera started")
}

// StopCamera stops the camera
func (c *Controller) StopCamera(ctx echo.Context) error {
	c.Monitor.StopCamera()
	return c.controlResult(ctx, ActionCameraStop, "Camera stopped")
}

// UpdateThreshold changes the confidence threshold for subsequent frames
func (c *Controller) UpdateThreshold(ctx echo.Context) error {
	var req ThresholdRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Threshold == nil {
		return c.HandleError(ctx, nil, "threshold is required", http.StatusBadRequest)
	}

	c.settingsMutex.Lock()
	defer c.settingsMutex.Unlock()

	if err := c.Monitor.SetThreshold(*req.Threshold); err != nil {
		return c.HandleError(ctx, err, "Invalid threshold", statusFor(err))
	}
	if c.Settings != nil {
		c.Settings.Detector.Threshold = *req.Threshold
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"threshold": c.Monitor.Threshold(),
	})
}

func (c *Controller) controlResult(ctx echo.Context, action, message string) error {
	return ctx.JSON(http.StatusOK, ControlResult{
		Success:   true,
		Message:   message,
		Action:    action,
		Timestamp: time.Now(),
	})
}

// bindOptional binds a JSON body when one was sent
func bindOptional(ctx echo.Context, v any) error {
	if ctx.Request().ContentLength == 0 {
		return nil
	}
	return ctx.Bind(v)
}
