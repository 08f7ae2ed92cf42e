// Package remote sends frames to a detection server over a websocket. Each
// frame goes out as a JPEG binary message and the server answers with one
// JSON text message listing its detections.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	xdraw "golang.org/x/image/draw"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// Config configures the remote backend
type Config struct {
	URL         string        // ws:// or wss:// endpoint
	DialTimeout time.Duration // handshake timeout
	MaxSide     int           // frames larger than this are downscaled before sending, 0 disables
	JPEGQuality int
}

// WireDetection is one entry of the server response
type WireDetection struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	ClassID    int        `json:"class_id"`
	Class      string     `json:"class,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
}

// Loader connects to the detection server. The model path is passed as the
// "model" query parameter so the server can load matching weights.
type Loader struct {
	cfg Config
}

// NewLoader creates a remote loader
func NewLoader(cfg Config) *Loader {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	return &Loader{cfg: cfg}
}

// Name implements detector.Loader
func (l *Loader) Name() string { return "remote" }

// Load implements detector.Loader. It dials once so a bad URL fails at load time.
func (l *Loader) Load(ctx context.Context, modelPath string) (detector.Detector, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return nil, err
	}
	if modelPath != "" {
		q := u.Query()
		q.Set("model", modelPath)
		u.RawQuery = q.Encode()
	}

	d := &Detector{
		endpoint: u.String(),
		cfg:      l.cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: l.cfg.DialTimeout},
		logger:   GetLogger(),
	}
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Detector is a connection to the detection server. Requests are serialized
// over one connection; a broken connection is redialed on the next call.
type Detector struct {
	endpoint string
	cfg      Config
	dialer   *websocket.Dialer
	logger   logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func (d *Detector) connect(ctx context.Context) error {
	conn, resp, err := d.dialer.DialContext(ctx, d.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.New(err).
			Component("detector").
			Category(errors.CategoryNetwork).
			Context("operation", "dial-detector").
			Build()
	}
	d.conn = conn
	d.logger.Info("connected to detection server", logger.String("url", d.cfg.URL))
	return nil
}

// Infer implements detector.Detector
func (d *Detector) Infer(ctx context.Context, frame *capture.Frame, _ float64) ([]detection.RawCandidate, error) {
	if frame == nil || frame.Image == nil {
		return nil, errors.Newf("empty frame").
			Component("detector").
			Category(errors.CategoryValidation).
			Build()
	}

	payload, scaleX, scaleY, err := d.encode(frame.Image)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		if err := d.connect(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := d.roundTrip(ctx, payload)
	if errors.IsCategory(err, errors.CategoryInference) {
		// the server answered; the connection is still good
		return nil, err
	}
	if err != nil {
		d.logger.Warn("detection request failed, reconnecting on next frame", logger.Error(err))
		_ = d.conn.Close()
		d.conn = nil
		return nil, err
	}

	for i := range raw {
		raw[i].Box.X1 *= scaleX
		raw[i].Box.X2 *= scaleX
		raw[i].Box.Y1 *= scaleY
		raw[i].Box.Y2 *= scaleY
	}
	return raw, nil
}

func (d *Detector) roundTrip(ctx context.Context, payload []byte) ([]detection.RawCandidate, error) {
	// zero deadline when ctx has none
	deadline, _ := ctx.Deadline()
	_ = d.conn.SetWriteDeadline(deadline)
	_ = d.conn.SetReadDeadline(deadline)

	// unblock reads when the context is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() {
		_ = d.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := d.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}

	_, msg, err := d.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read result: %w", err)
	}

	return decodeResponse(msg)
}

func decodeResponse(msg []byte) ([]detection.RawCandidate, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) > 0 && msg[0] == '{' {
		var we wireError
		if err := json.Unmarshal(msg, &we); err != nil {
			return nil, fmt.Errorf("decode error response: %w", err)
		}
		return nil, errors.Newf("detection server: %s", we.Error).
			Component("detector").
			Category(errors.CategoryInference).
			Build()
	}

	var wire []WireDetection
	if err := json.Unmarshal(msg, &wire); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	out := make([]detection.RawCandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, detection.RawCandidate{
			ClassID:    w.ClassID,
			Confidence: w.Confidence,
			Box:        detection.BBox{X1: w.BBox[0], Y1: w.BBox[1], X2: w.BBox[2], Y2: w.BBox[3]},
		})
	}
	return out, nil
}

// encode JPEG-encodes img, downscaling first when it exceeds MaxSide. The
// returned factors map server coordinates back to the original frame.
func (d *Detector) encode(img image.Image) (payload []byte, scaleX, scaleY float64, err error) {
	b := img.Bounds()
	scaleX, scaleY = 1, 1

	if maxSide := d.cfg.MaxSide; maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		w, h := maxSide, maxSide
		if b.Dx() >= b.Dy() {
			h = max(1, b.Dy()*maxSide/b.Dx())
		} else {
			w = max(1, b.Dx()*maxSide/b.Dy())
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		scaleX = float64(b.Dx()) / float64(w)
		scaleY = float64(b.Dy()) / float64(h)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.cfg.JPEGQuality}); err != nil {
		return nil, 0, 0, errors.New(err).
			Component("detector").
			Category(errors.CategoryImageDecode).
			Context("operation", "jpeg-encode").
			Build()
	}
	return buf.Bytes(), scaleX, scaleY, nil
}

// Close implements detector.Detector
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := d.conn.Close()
	d.conn = nil
	return err
}

// GetLogger returns the remote backend logger
func GetLogger() logger.Logger {
	return logger.Global().Module("detector").Module("remote")
}
