// client.go: paho based Client implementation
package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// client implements the Client interface. Reconnection after a lost
// session is left to paho's auto reconnect.
type client struct {
	config  Config
	metrics *metrics.MQTTMetrics
	logger  logger.Logger

	mu       sync.Mutex
	internal paho.Client
}

// NewClient creates a disconnected client. m may be nil.
func NewClient(config Config, m *metrics.MQTTMetrics) (Client, error) {
	if err := validateBroker(config.Broker); err != nil {
		return nil, err
	}
	return &client{
		config:  config,
		metrics: m,
		logger:  GetLogger().With(logger.String("broker", config.Broker)),
	}, nil
}

func validateBroker(broker string) error {
	u, err := url.Parse(broker)
	if err == nil && u.Scheme != "" && u.Hostname() != "" {
		return nil
	}
	if err == nil {
		err = errors.NewStd("broker URL needs a scheme and host")
	}
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryConfiguration).
		Context("broker", broker).
		Build()
}

// Connect resolves the broker host and opens a session
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, _ := url.Parse(c.config.Broker)
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("operation", "resolve_broker").
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectDelay)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internal = paho.NewClient(opts)

	token := c.internal.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		c.metrics.UpdateConnectionStatus(false)
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("operation", "connect").
			Build()
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

// waitToken waits for a paho token, the timeout or ctx, whichever is first
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.Newf("timed out after %s", timeout).
			Category(errors.CategoryTimeout).
			Build()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends payload with QoS 1
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}

	c.mu.Lock()
	internal := c.internal
	c.mu.Unlock()

	token := internal.Publish(topic, 1, retain, payload)
	if err := waitToken(ctx, token, c.config.PublishTimeout); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect closes the connection to the MQTT broker
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internal == nil {
		return
	}
	c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.metrics.UpdateConnectionStatus(false)
	c.logger.Info("disconnected from MQTT broker")
}

func (c *client) onConnect(paho.Client) {
	c.logger.Info("connected to MQTT broker")
	c.metrics.UpdateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.logger.Debug("reconnecting to MQTT broker")
	c.metrics.IncrementReconnectAttempts()
}
