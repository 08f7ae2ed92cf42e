// publisher.go: alert log subscriber that forwards alerts to MQTT
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// AlertMessage is the payload published to <topic>/alerts
type AlertMessage struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Level     alertlog.Level `json:"level"`
	Kind      alertlog.Kind  `json:"kind"`
	Class     string         `json:"class,omitempty"`
	Message   string         `json:"message"`
	Station   string         `json:"station,omitempty"`
}

// StateMessage is the payload published to <topic>/state/<class>
type StateMessage struct {
	Class     string    `json:"class"`
	Detected  bool      `json:"detected"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards alert log entries to the broker. Every entry goes to
// <topic>/alerts; presence transitions also update <topic>/state/<class>,
// retained when configured, so late subscribers see current presence.
type Publisher struct {
	client  Client
	config  Config
	station string
	metrics *metrics.MQTTMetrics
	logger  logger.Logger
}

// NewPublisher creates a publisher on client. m may be nil.
func NewPublisher(client Client, config Config, station string, m *metrics.MQTTMetrics) *Publisher {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Publisher{
		client:  client,
		config:  config,
		station: station,
		metrics: m,
		logger:  GetLogger().Module("publisher"),
	}
}

// AlertsTopic returns the topic every alert is published to
func (p *Publisher) AlertsTopic() string {
	return joinTopic(p.config.Topic, "alerts")
}

// StateTopic returns the presence topic of class
func (p *Publisher) StateTopic(class string) string {
	return joinTopic(p.config.Topic, "state", class)
}

func joinTopic(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(part, "/"); part != "" {
			trimmed = append(trimmed, part)
		}
	}
	return strings.Join(trimmed, "/")
}

// Consume publishes one entry. It has the alert log subscriber signature.
func (p *Publisher) Consume(e alertlog.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.PublishEntry(ctx, e); err != nil {
		p.logger.Warn("failed to publish alert",
			logger.Uint64("seq", e.Seq),
			logger.String("kind", string(e.Kind)),
			logger.Error(err))
	}
}

// PublishEntry publishes e to the alerts topic and, for transitions, to the
// state topic of its class
func (p *Publisher) PublishEntry(ctx context.Context, e alertlog.Entry) error {
	payload, err := json.Marshal(AlertMessage{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Level:     e.Level,
		Kind:      e.Kind,
		Class:     e.Class,
		Message:   e.Message,
		Station:   p.station,
	})
	if err != nil {
		return err
	}
	if err := p.publish(ctx, "alert", p.AlertsTopic(), payload, false); err != nil {
		return err
	}

	if e.Class == "" || (e.Kind != alertlog.KindDetected && e.Kind != alertlog.KindMissing) {
		return nil
	}

	state, err := json.Marshal(StateMessage{
		Class:     e.Class,
		Detected:  e.Kind == alertlog.KindDetected,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		return err
	}
	return p.publish(ctx, "state", p.StateTopic(e.Class), state, p.config.Retain)
}

func (p *Publisher) publish(ctx context.Context, kind, topic string, payload []byte, retain bool) error {
	start := time.Now()
	err := p.client.Publish(ctx, topic, payload, retain)
	p.metrics.RecordPublish(kind, len(payload), time.Since(start), err)
	if err == nil {
		p.logger.Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	}
	return err
}
