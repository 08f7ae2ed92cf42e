// internal/api/v2/state.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/analysis/processor"
	"github.com/stationsafe/scanner-go/internal/datastore"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/errors"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// StateResponse is the equipment presence map
type StateResponse struct {
	Equipment map[string]processor.EquipmentState `json:"equipment"`
	Timestamp time.Time                           `json:"timestamp"`
}

// AlertsResponse is a page of the in-memory alert log
type AlertsResponse struct {
	Alerts  []alertlog.Entry `json:"alerts"`
	LastSeq uint64           `json:"last_seq"` // pass as ?since= to poll for newer entries
}

// HistoryEntry is a persisted alert
type HistoryEntry struct {
	alertlog.Entry
	Station string `json:"station,omitempty"`
}

// HistoryResponse is a page of persisted alerts, newest first
type HistoryResponse struct {
	Alerts []HistoryEntry `json:"alerts"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ResultResponse is one detection result with its frame metadata
type ResultResponse struct {
	FrameSeq    uint64                `json:"frame_seq"`
	Source      string                `json:"source"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	CapturedAt  time.Time             `json:"captured_at"`
	ProcessedAt time.Time             `json:"processed_at"`
	ElapsedMs   float64               `json:"elapsed_ms"`
	Detections  []detection.Detection `json:"detections"`
}

func newResultResponse(res *analysis.Result) ResultResponse {
	out := ResultResponse{
		ProcessedAt: res.ProcessedAt,
		ElapsedMs:   float64(res.Elapsed.Microseconds()) / 1000,
		Detections:  res.Detections,
	}
	if out.Detections == nil {
		out.Detections = []detection.Detection{}
	}
	if f := res.Frame; f != nil {
		b := f.Bounds()
		out.FrameSeq = f.Seq
		out.Source = f.Source
		out.Width = b.Dx()
		out.Height = b.Dy()
		out.CapturedAt = f.CapturedAt
	}
	return out
}

// initStateRoutes registers the read-only pipeline endpoints
func (c *Controller) initStateRoutes() {
	c.Group.GET("/state", c.GetState)
	c.Group.GET("/alerts", c.GetAlerts)
	c.Group.GET("/detections/latest", c.GetLatestDetections)
	c.Group.GET("/status", c.GetStatus)
	if c.DS != nil {
		c.Group.GET("/alerts/history", c.GetAlertHistory)
	}
}

// GetState returns the presence state of every class
func (c *Controller) GetState(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StateResponse{
		Equipment: c.Monitor.State(),
		Timestamp: time.Now(),
	})
}

// GetAlerts returns retained alert log entries after ?since=<seq>,
// optionally at or above ?level= and capped to the newest ?limit=
func (c *Controller) GetAlerts(ctx echo.Context) error {
	since, err := parseSince(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid since parameter", http.StatusBadRequest)
	}
	limit, err := parseLimit(ctx, 0)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid limit parameter", http.StatusBadRequest)
	}

	log := c.Monitor.Alerts()
	// read LastSeq first so a poll with ?since=LastSeq never skips an entry
	lastSeq := log.LastSeq()
	entries := log.Entries(since)
	entries = lo.Filter(entries, func(e alertlog.Entry, _ int) bool { return e.Seq <= lastSeq })

	if raw := ctx.QueryParam("level"); raw != "" {
		minLevel, err := alertlog.ParseLevel(raw)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid level parameter", http.StatusBadRequest)
		}
		entries = lo.Filter(entries, func(e alertlog.Entry, _ int) bool { return e.Level >= minLevel })
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return ctx.JSON(http.StatusOK, AlertsResponse{Alerts: entries, LastSeq: lastSeq})
}

// GetLatestDetections returns the most recent detection result
func (c *Controller) GetLatestDetections(ctx echo.Context) error {
	res := c.Monitor.Latest()
	if res == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	return ctx.JSON(http.StatusOK, newResultResponse(res))
}

// GetStatus returns the pipeline summary
func (c *Controller) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Monitor.Status())
}

// GetAlertHistory queries persisted alerts
func (c *Controller) GetAlertHistory(ctx echo.Context) error {
	limit, err := parseLimit(ctx, defaultHistoryLimit)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid limit parameter", http.StatusBadRequest)
	}
	offset, err := parseNonNegative(ctx, "offset")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid offset parameter", http.StatusBadRequest)
	}

	filter := datastore.AlertFilter{
		Class:  ctx.QueryParam("class"),
		Limit:  limit,
		Offset: offset,
	}
	if raw := ctx.QueryParam("level"); raw != "" {
		level, err := alertlog.ParseLevel(raw)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid level parameter", http.StatusBadRequest)
		}
		filter.Level = level.String()
	}
	if raw := ctx.QueryParam("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid from parameter, expected RFC3339", http.StatusBadRequest)
		}
		filter.Since = from
	}

	alerts, err := c.DS.Query(filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to query alert history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, HistoryResponse{
		Alerts: lo.Map(alerts, func(a datastore.Alert, _ int) HistoryEntry {
			return HistoryEntry{Entry: a.Entry(), Station: a.Station}
		}),
		Limit:  limit,
		Offset: offset,
	})
}

func parseSince(ctx echo.Context) (uint64, error) {
	raw := ctx.QueryParam("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, validationError("since", raw)
	}
	return since, nil
}

func parseLimit(ctx echo.Context, def int) (int, error) {
	if ctx.QueryParam("limit") == "" {
		return def, nil
	}
	limit, err := parseNonNegative(ctx, "limit")
	if err != nil {
		return 0, err
	}
	return min(limit, maxHistoryLimit), nil
}

func parseNonNegative(ctx echo.Context, name string) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, validationError(name, raw)
	}
	return n, nil
}

func validationError(param, value string) error {
	return errors.Newf("%s must be a non-negative integer", param).
		Component("api").
		Category(errors.CategoryValidation).
		Context("value", value).
		Build()
}
