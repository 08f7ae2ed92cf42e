// mqtt.go: Package mqtt publishes alerts and equipment presence to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/stationsafe/scanner-go/internal/conf"
)

// Client defines the MQTT operations the publisher needs
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. It fails fast while disconnected.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// IsConnected reports whether the client currently has a broker session.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // topic prefix
	Retain   bool   // retain presence state messages at the broker

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             "scanner",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		MaxReconnectDelay: 2 * time.Minute,
	}
}

// ConfigFromSettings builds a Config from the realtime MQTT settings. An
// empty client id falls back to the station name.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	m := settings.Realtime.MQTT
	cfg.Broker = m.Broker
	cfg.Username = m.Username
	cfg.Password = m.Password
	cfg.Retain = m.Retain
	if m.Topic != "" {
		cfg.Topic = m.Topic
	}
	cfg.ClientID = m.ClientID
	if cfg.ClientID == "" {
		cfg.ClientID = settings.Main.Name
	}
	return cfg
}
