// Package ha is a minimal Home Assistant websocket client. The bridge uses it
// to surface command failures as persistent notifications.
package ha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// ErrNotConnected is returned for requests made while disconnected
var ErrNotConnected = errors.New("not connected")

// HAClient is the Home Assistant surface used by the bridge
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	CreateNotification(ctx context.Context, n Notification) error
	DismissNotification(ctx context.Context, id string) error
}

// Client implements HAClient over the websocket API
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	conn      *websocket.Conn
	connected bool
	reconnect bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewClient creates a client for the websocket endpoint at url
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:       url,
		token:     token,
		logger:    logger.Named("ha"),
		pending:   make(map[int]chan Message),
		ctx:       ctx,
		cancel:    cancel,
		reconnect: true,

		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Connect dials Home Assistant and completes the auth handshake
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	if err := authenticate(conn, c.token); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	go c.receiveMessages(c.ctx, conn)
	return nil
}

// ConnectWithRetry connects like Connect. When the first attempt fails it
// keeps retrying in the background until a connection succeeds or Disconnect
// is called, and returns the first error.
func (c *Client) ConnectWithRetry() error {
	err := c.Connect()
	if err != nil {
		go c.attemptReconnect()
	}
	return err
}

func authenticate(conn *websocket.Conn, token string) error {
	var required Message
	if err := conn.ReadJSON(&required); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if required.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", required.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var resp Message
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch resp.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication failed: invalid token")
	default:
		return fmt.Errorf("expected auth_ok, got %s", resp.Type)
	}
}

// Disconnect closes the connection and stops reconnecting
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()
	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the websocket is up
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// send writes a request carrying id and waits for its result
func (c *Client) send(ctx context.Context, id int, req any) (*Message, error) {
	c.connMu.RLock()
	conn, connected, done := c.conn, c.connected, c.ctx.Done()
	c.connMu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages routes results to their waiting requests until the
// connection of this session fails or is closed.
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		if msg.ID == 0 {
			continue
		}
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.ID]; ok {
			select {
			case ch <- msg:
			default:
				c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
			}
		}
		c.pendingMu.Unlock()
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	reconnect := c.reconnect
	c.cancel()
	c.connMu.Unlock()

	conn.Close()
	c.logger.Warn("Connection lost")
	if reconnect {
		go c.attemptReconnect()
	}
}

// attemptReconnect retries Connect with exponential backoff from 1s to 30s
func (c *Client) attemptReconnect() {
	backoff := c.minBackoff
	maxBackoff := c.maxBackoff

	for {
		time.Sleep(backoff)

		c.connMu.RLock()
		stop := !c.reconnect || c.connected
		c.connMu.RUnlock()
		if stop {
			return
		}

		c.logger.Info("Attempting to reconnect...")
		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// CallService calls a Home Assistant service
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	id := c.nextMsgID()
	_, err := c.send(ctx, id, &CallServiceRequest{
		ID:          id,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", domain, service, err)
	}
	return nil
}

// Ping checks that Home Assistant answers on the connection
func (c *Client) Ping(ctx context.Context) error {
	id := c.nextMsgID()
	_, err := c.send(ctx, id, &PingRequest{ID: id, Type: "ping"})
	return err
}

// CreateNotification shows a persistent notification. Reusing an id replaces
// the previous notification.
func (c *Client) CreateNotification(ctx context.Context, n Notification) error {
	return c.CallService(ctx, "persistent_notification", "create", n.serviceData())
}

// DismissNotification removes a persistent notification by id
func (c *Client) DismissNotification(ctx context.Context, id string) error {
	return c.CallService(ctx, "persistent_notification", "dismiss", map[string]any{
		"notification_id": id,
	})
}
