// internal/api/v2/sse.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// SSE defaults
const (
	DefaultHeartbeat    = 30 * time.Second
	sseClientBuffer     = 64
	sseWriteDeadline    = 10 * time.Second
	sseEndpointAlerts   = "alerts"
	sseEndpointDetected = "detections"
)

// SSEEvent is one message queued for a client
type SSEEvent struct {
	Type string // alert, detection
	ID   string // Last-Event-ID value, empty for none
	Data any
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID       string
	Endpoint string // which stream the client reads
	Channel  chan SSEEvent
	Done     chan struct{}

	closeOnce sync.Once
}

func (c *SSEClient) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// SSEManager fans monitor events out to connected clients. Broadcasts
// never block: a client whose buffer is full is disconnected.
type SSEManager struct {
	clients map[string]*SSEClient
	mutex   sync.RWMutex
	logger  logger.Logger
	metrics *metrics.HTTPMetrics
}

// NewSSEManager creates a new SSE manager. m may be nil.
func NewSSEManager(log logger.Logger, m *metrics.HTTPMetrics) *SSEManager {
	return &SSEManager{
		clients: make(map[string]*SSEClient),
		logger:  log,
		metrics: m,
	}
}

// AddClient registers a client
func (m *SSEManager) AddClient(client *SSEClient) {
	m.mutex.Lock()
	m.clients[client.ID] = client
	total := len(m.clients)
	m.mutex.Unlock()

	m.logger.Debug("SSE client connected",
		logger.String("client_id", client.ID),
		logger.String("endpoint", client.Endpoint),
		logger.Int("total", total))
}

// RemoveClient unregisters a client and signals its handler to return
func (m *SSEManager) RemoveClient(clientID string) {
	m.mutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	total := len(m.clients)
	m.mutex.Unlock()

	if !exists {
		return
	}
	client.close()
	m.logger.Debug("SSE client disconnected",
		logger.String("client_id", clientID),
		logger.Int("total", total))
}

// BroadcastAlert queues an alert for every alert stream client
func (m *SSEManager) BroadcastAlert(e alertlog.Entry) {
	m.broadcast(sseEndpointAlerts, SSEEvent{Type: "alert", ID: strconv.FormatUint(e.Seq, 10), Data: e})
}

// BroadcastDetections queues a detection result for every detection stream client
func (m *SSEManager) BroadcastDetections(res *analysis.Result) {
	if res == nil {
		return
	}
	m.broadcast(sseEndpointDetected, SSEEvent{Type: "detection", Data: newResultResponse(res)})
}

func (m *SSEManager) broadcast(endpoint string, event SSEEvent) {
	m.mutex.RLock()
	var blocked []string
	for id, client := range m.clients {
		if client.Endpoint != endpoint {
			continue
		}
		select {
		case client.Channel <- event:
		default:
			blocked = append(blocked, id)
		}
	}
	m.mutex.RUnlock()

	for _, id := range blocked {
		m.logger.Warn("SSE client too slow, disconnecting", logger.String("client_id", id))
		m.RemoveClient(id)
	}
}

// GetClientCount returns the number of connected clients
func (m *SSEManager) GetClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// CloseAll disconnects every client
func (m *SSEManager) CloseAll() {
	m.mutex.Lock()
	clients := m.clients
	m.clients = make(map[string]*SSEClient)
	m.mutex.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// initSSERoutes registers SSE-related API endpoints
func (c *Controller) initSSERoutes() {
	// 10 connection attempts per minute per IP
	rateLimiterConfig := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      10.0 / 60.0,
				Burst:     10,
				ExpiresIn: time.Minute,
			},
		),
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded for SSE connections",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many SSE connection attempts, please wait before trying again",
			})
		},
	}
	limiter := middleware.RateLimiterWithConfig(rateLimiterConfig)

	c.Group.GET("/alerts/stream", c.StreamAlerts, limiter)
	c.Group.GET("/detections/stream", c.StreamDetections, limiter)
	c.Group.GET("/sse/status", c.GetSSEStatus)
}

// StreamAlerts streams alert log entries. Entries after ?since=<seq> (or
// the Last-Event-ID header) are replayed first.
func (c *Controller) StreamAlerts(ctx echo.Context) error {
	since, err := parseSince(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid since parameter", http.StatusBadRequest)
	}
	if since == 0 {
		if id := ctx.Request().Header.Get("Last-Event-ID"); id != "" {
			since, _ = strconv.ParseUint(id, 10, 64)
		}
	}

	// register before replaying so nothing appended in between is lost
	client := c.newSSEClient(sseEndpointAlerts)
	defer c.sseManager.RemoveClient(client.ID)

	c.startSSE(ctx)
	if err := c.sendSSEMessage(ctx, sseEndpointAlerts, "connected", "", map[string]string{
		"clientId": client.ID,
		"message":  "Connected to alert stream",
	}); err != nil {
		return nil
	}

	last := since
	for _, e := range c.Monitor.Alerts().Entries(since) {
		if err := c.sendSSEMessage(ctx, sseEndpointAlerts, "alert", strconv.FormatUint(e.Seq, 10), e); err != nil {
			return nil
		}
		last = e.Seq
	}

	return c.serveSSE(ctx, client, func(ev SSEEvent) bool {
		// skip entries already sent by the replay
		if e, ok := ev.Data.(alertlog.Entry); ok && e.Seq <= last {
			return false
		}
		return true
	})
}

// StreamDetections streams every detection result from either input path
func (c *Controller) StreamDetections(ctx echo.Context) error {
	client := c.newSSEClient(sseEndpointDetected)
	defer c.sseManager.RemoveClient(client.ID)

	c.startSSE(ctx)
	if err := c.sendSSEMessage(ctx, sseEndpointDetected, "connected", "", map[string]string{
		"clientId": client.ID,
		"message":  "Connected to detection stream",
	}); err != nil {
		return nil
	}

	return c.serveSSE(ctx, client, nil)
}

func (c *Controller) newSSEClient(endpoint string) *SSEClient {
	client := &SSEClient{
		ID:       uuid.NewString(),
		Endpoint: endpoint,
		Channel:  make(chan SSEEvent, sseClientBuffer),
		Done:     make(chan struct{}),
	}
	c.sseManager.AddClient(client)
	return client
}

func (c *Controller) startSSE(ctx echo.Context) {
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)
	ctx.Response().Flush()
}

// serveSSE pumps queued events and heartbeats until the client goes away,
// the manager drops it or the controller shuts down
func (c *Controller) serveSSE(ctx echo.Context, client *SSEClient, accept func(SSEEvent) bool) error {
	endpoint := client.Endpoint
	start := time.Now()
	reason := metrics.SSECloseReasonClosed
	if c.metrics != nil {
		c.metrics.SSEConnectionStarted(endpoint)
		defer func() {
			c.metrics.SSEConnectionClosed(endpoint, time.Since(start).Seconds(), reason)
		}()
	}

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-client.Channel:
			if accept != nil && !accept(ev) {
				continue
			}
			if err := c.sendSSEMessage(ctx, endpoint, ev.Type, ev.ID, ev.Data); err != nil {
				reason = metrics.SSECloseReasonError
				return nil
			}

		case <-ticker.C:
			if err := c.sendSSEMessage(ctx, endpoint, "heartbeat", "", map[string]any{
				"timestamp": time.Now().Unix(),
				"clients":   c.sseManager.GetClientCount(),
			}); err != nil {
				reason = metrics.SSECloseReasonError
				return nil
			}

		case <-ctx.Request().Context().Done():
			return nil

		case <-client.Done:
			reason = metrics.SSECloseReasonError
			return nil

		case <-c.ctx.Done():
			reason = metrics.SSECloseReasonCanceled
			return nil
		}
	}
}

// sendSSEMessage writes one event and flushes it
func (c *Controller) sendSSEMessage(ctx echo.Context, endpoint, event, id string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	// not every writer supports deadlines; httptest.ResponseRecorder does not
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))

	var msg string
	if id != "" {
		msg = fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", id, event, jsonData)
	} else {
		msg = fmt.Sprintf("event: %s\ndata: %s\n\n", event, jsonData)
	}
	if _, err := ctx.Response().Write([]byte(msg)); err != nil {
		c.logger.Debug("SSE write failed, client likely disconnected", logger.Error(err))
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	ctx.Response().Flush()

	if c.metrics != nil {
		c.metrics.RecordSSEMessageSent(endpoint, event)
	}
	return nil
}

// GetSSEStatus returns information about SSE connections
func (c *Controller) GetSSEStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"connected_clients": c.sseManager.GetClientCount(),
		"status":            "active",
	})
}
