package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// Suppression reasons recorded in metrics
const (
	SuppressedLevel     = "level"
	SuppressedCooldown  = "cooldown"
	SuppressedRateLimit = "rate_limit"
)

// Dispatcher defaults
const (
	DefaultCooldown  = 5 * time.Minute
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 1.0 // notifications per second
	DefaultBurst     = 5
)

// Config configures a Dispatcher
type Config struct {
	MinLevel  alertlog.Level
	Cooldown  time.Duration // identical messages inside this window are sent once
	Timeout   time.Duration // per provider send
	RateLimit float64       // sustained notifications per second
	Burst     int
	Station   string // prefixed to titles
}

// ConfigFromSettings builds a Config from the push settings
func ConfigFromSettings(settings *conf.Settings) (Config, error) {
	p := settings.Realtime.Push
	cfg := Config{
		Cooldown:  p.Cooldown,
		Timeout:   p.Timeout,
		RateLimit: p.RateLimit,
		Burst:     p.Burst,
		Station:   settings.Main.Name,
		MinLevel:  alertlog.LevelWarning,
	}
	if p.MinLevel != "" {
		level, err := alertlog.ParseLevel(p.MinLevel)
		if err != nil {
			return Config{}, err
		}
		cfg.MinLevel = level
	}
	return cfg, nil
}

// Dispatcher turns alert log entries into push notifications. Entries below
// the minimum level are ignored; repeats of the same message within the
// cooldown and anything over the rate limit are dropped.
type Dispatcher struct {
	config    Config
	providers []Provider
	recent    *cache.Cache
	limiter   *rate.Limiter
	metrics   *metrics.NotificationMetrics
	logger    logger.Logger
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(config Config, m *metrics.NotificationMetrics, providers ...Provider) *Dispatcher {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultRateLimit
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}

	return &Dispatcher{
		config:    config,
		providers: providers,
		recent:    cache.New(config.Cooldown, 2*config.Cooldown),
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		metrics:   m,
		logger:    GetLogger().Module("dispatcher"),
	}
}

// Consume handles one entry. It has the alert log subscriber signature.
func (d *Dispatcher) Consume(e alertlog.Entry) {
	n, ok := d.admit(e)
	if !ok {
		return
	}
	for _, p := range d.providers {
		d.send(p, n)
	}
}

// admit applies the level, cooldown and rate filters in that order
func (d *Dispatcher) admit(e alertlog.Entry) (*Notification, bool) {
	if e.Level < d.config.MinLevel {
		d.metrics.RecordSuppressed(SuppressedLevel)
		return nil, false
	}

	// Add fails while the key is still cached
	if err := d.recent.Add(e.Message, e.Seq, cache.DefaultExpiration); err != nil {
		d.metrics.RecordSuppressed(SuppressedCooldown)
		d.logger.Debug("notification in cooldown", logger.String("message", e.Message))
		return nil, false
	}

	if !d.limiter.Allow() {
		d.metrics.RecordSuppressed(SuppressedRateLimit)
		d.logger.Warn("notification rate limit exceeded", logger.Uint64("seq", e.Seq))
		return nil, false
	}

	return &Notification{Title: d.title(e), Message: e.Message}, true
}

func (d *Dispatcher) title(e alertlog.Entry) string {
	if d.config.Station == "" {
		return e.Level.String()
	}
	return fmt.Sprintf("%s: %s", d.config.Station, e.Level)
}

func (d *Dispatcher) send(p Provider, n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
	defer cancel()

	start := time.Now()
	err := p.Send(ctx, n)
	d.metrics.RecordDelivery(p.Name(), time.Since(start), err)
	if err != nil {
		d.logger.Warn("notification delivery failed",
			logger.String("provider", p.Name()),
			logger.Error(err))
		return
	}
	d.logger.Debug("notification sent", logger.String("provider", p.Name()))
}

// Providers returns the configured provider names
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name())
	}
	return names
}
