// Package mqtt wraps the paho client with the small surface the bridge needs:
// retained publishing, subscriptions restored after reconnects and a bridge
// availability topic backed by the broker's last will.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
	qos               = 1

	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("mqtt: not connected")

// Handler receives messages of a subscribed topic
type Handler func(topic string, payload []byte)

// ClientAPI is the broker surface used by the host platform
type ClientAPI interface {
	Publish(topic string, payload []byte, retain bool) error
	Subscribe(topic string, handler Handler) error
	Unsubscribe(topic string) error
}

// Options configures a Client
type Options struct {
	// BrokerURL accepts mqtt, tcp, ssl, tls, ws and wss schemes. User info is
	// used as credentials.
	BrokerURL string
	// ClientID defaults to "homeconnect-bridge-" plus a random suffix
	ClientID string
	// StatusTopic receives "online" after every connect and "offline" as last will
	StatusTopic string
}

// Client is a connected broker client
type Client struct {
	cli    pahomqtt.Client
	opts   Options
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]Handler
}

// Broker is a parsed broker URL
type Broker struct {
	Server   string
	Username string
	Password string
	TLS      bool
}

// ParseBrokerURL converts a broker URL into the server address paho expects
func ParseBrokerURL(raw string) (Broker, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Broker{}, fmt.Errorf("invalid broker url: %w", err)
	}
	if u.Host == "" {
		return Broker{}, fmt.Errorf("invalid broker url %q: missing host", raw)
	}

	var b Broker
	switch u.Scheme {
	case "mqtt", "tcp":
		b.Server = "tcp://" + u.Host
	case "ssl", "tls", "mqtts":
		b.Server = "ssl://" + u.Host
		b.TLS = true
	case "ws":
		b.Server = "ws://" + u.Host + u.Path
	case "wss":
		b.Server = "wss://" + u.Host + u.Path
		b.TLS = true
	default:
		return Broker{}, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	if u.User != nil {
		b.Username = u.User.Username()
		b.Password, _ = u.User.Password()
	}
	return b, nil
}

// DefaultClientID returns a client id unique to this process
func DefaultClientID() string {
	return "homeconnect-bridge-" + uuid.NewString()[:8]
}

// Connect dials the broker and blocks until the first connection succeeds
func Connect(opts Options, logger *zap.Logger) (*Client, error) {
	broker, err := ParseBrokerURL(opts.BrokerURL)
	if err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID()
	}

	c := &Client{
		opts:   opts,
		logger: logger.Named("mqtt"),
		subs:   make(map[string]Handler),
	}

	po := pahomqtt.NewClientOptions()
	po.AddBroker(broker.Server)
	po.SetClientID(opts.ClientID)
	if broker.Username != "" {
		po.SetUsername(broker.Username)
		po.SetPassword(broker.Password)
	}
	if broker.TLS {
		po.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(time.Second)
	po.SetMaxReconnectInterval(30 * time.Second)
	po.SetConnectTimeout(connectTimeout)
	po.SetKeepAlive(keepAlive)
	po.SetOrderMatters(false)
	if opts.StatusTopic != "" {
		po.SetWill(opts.StatusTopic, PayloadOffline, qos, true)
	}
	po.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("Connection to broker lost", zap.Error(err))
	})

	c.cli = pahomqtt.NewClient(po)
	token := c.cli.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to %s: timeout after %v", broker.Server, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", broker.Server, err)
	}

	c.logger.Info("Connected to broker",
		zap.String("server", broker.Server),
		zap.String("client_id", opts.ClientID))
	return c, nil
}

// handleConnect restores subscriptions and announces the bridge. It runs on
// the first connect and after every reconnect.
func (c *Client) handleConnect() {
	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.RUnlock()

	for topic, h := range subs {
		c.cli.Subscribe(topic, qos, c.wrap(h))
	}
	if c.opts.StatusTopic != "" {
		c.cli.Publish(c.opts.StatusTopic, qos, true, PayloadOnline)
	}
	c.logger.Debug("Broker session ready", zap.Int("subscriptions", len(subs)))
}

func (c *Client) wrap(h Handler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					zap.String("topic", msg.Topic()),
					zap.Any("panic", r))
			}
		}()
		h(msg.Topic(), msg.Payload())
	}
}

// Publish sends payload with QoS 1
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	if !c.cli.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.cli.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription survives reconnects.
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	token := c.cli.Subscribe(topic, qos, c.wrap(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s failed: %w", topic, err)
	}
	c.logger.Debug("Subscribed", zap.String("topic", topic))
	return nil
}

// Unsubscribe removes the subscription of topic
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	token := c.cli.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("unsubscribe from %s timed out", topic)
	}
	return token.Error()
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.cli.IsConnectionOpen()
}

// Close announces the bridge offline and disconnects
func (c *Client) Close() {
	if c.cli.IsConnectionOpen() && c.opts.StatusTopic != "" {
		token := c.cli.Publish(c.opts.StatusTopic, qos, true, PayloadOffline)
		token.WaitTimeout(publishTimeout)
	}
	c.cli.Disconnect(disconnectQuiesce)
	c.logger.Info("Disconnected from broker")
}
