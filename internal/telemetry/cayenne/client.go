// Package cayenne publishes readings to the myDevices Cayenne MQTT API.
package cayenne

import (
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultHost = "mqtt.mydevices.com:1883"

	defaultConnectTimeout = 10 * time.Second
	qos                   = 0
)

// Config holds the Cayenne MQTT credentials
type Config struct {
	Host           string
	User           string
	Password       string
	ClientID       string
	ConnectTimeout time.Duration
}

// Client is a telemetry.Sink publishing each reading on its channel topic
type Client struct {
	config Config
	logger *slog.Logger
	client mqtt.Client

	dropped atomic.Uint64
}

// NewClient creates a Cayenne client. Connect must be called before publishing.
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{config: config, logger: logger}
}

// Connect opens the MQTT session
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(BrokerURL(c.config.Host)).
		SetClientID(c.config.ClientID).
		SetUsername(c.config.User).
		SetPassword(c.config.Password).
		SetConnectTimeout(c.config.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("cayenne connection lost", "error", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			c.logger.Info("cayenne connected", "host", c.config.Host, "client", c.config.ClientID)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return &telemetry.ConnectError{Backend: "cayenne", Err: ctx.Err()}
	}
	if err := token.Error(); err != nil {
		return &telemetry.ConnectError{Backend: "cayenne", Err: err}
	}

	c.client = client
	return nil
}

// Publish sends the reading with QoS 0 and does not wait for the broker
func (c *Client) Publish(r telemetry.Reading) {
	if c.client == nil || !c.client.IsConnectionOpen() {
		c.dropped.Add(1)
		return
	}

	topic := Topic(c.config.User, c.config.ClientID, r.Channel)
	payload := Payload(r)
	c.client.Publish(topic, qos, false, payload)
	c.logger.Debug("cayenne publish", "topic", topic, "payload", payload)
}

// Dropped returns the readings dropped while disconnected
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Close disconnects, allowing in-flight publishes a short grace period
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Disconnect(250)
	}
	return nil
}

// Topic returns the data topic of a channel
func Topic(user, clientID string, channel int) string {
	return fmt.Sprintf("v1/%s/things/%s/data/%d", user, clientID, channel)
}

// Payload formats a reading as "type,unit=value", or just the value when
// the reading has no type hint
func Payload(r telemetry.Reading) string {
	value := r.FormatValue()
	if r.Type == "" {
		return value
	}
	if r.Unit == "" {
		return fmt.Sprintf("%s=%s", r.Type, value)
	}
	return fmt.Sprintf("%s,%s=%s", r.Type, r.Unit, value)
}

// BrokerURL adds the scheme and default port to a bare host
func BrokerURL(host string) string {
	if !strings.Contains(host, "://") {
		host = "tcp://" + host
	}
	rest := host[strings.Index(host, "://")+3:]
	if !strings.Contains(rest, ":") {
		host += ":1883"
	}
	return host
}

var _ telemetry.Sink = (*Client)(nil)
