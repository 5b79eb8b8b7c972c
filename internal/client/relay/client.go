package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/logger"
)

// State is the relay connection lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FrameHandler processes one inbound relay frame
type FrameHandler func(frame *domain.Frame)

// StateChangeHandler observes connection state transitions
type StateChangeHandler func(oldState, newState State)

// Config configures the relay client
type Config struct {
	// BaseURL is the relay root, e.g. ws://host:8080
	BaseURL          string
	Token            string
	SessionID        uuid.UUID
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// ReconnectInitialInterval seeds the exponential backoff
	ReconnectInitialInterval time.Duration
	MaxReconnectElapsed      time.Duration
}

// DefaultConfig returns a config with production defaults
func DefaultConfig(baseURL, token string, sessionID uuid.UUID) *Config {
	return &Config{
		BaseURL:                  baseURL,
		Token:                    token,
		SessionID:                sessionID,
		HandshakeTimeout:         10 * time.Second,
		WriteTimeout:             5 * time.Second,
		PingInterval:             30 * time.Second,
		ReconnectInitialInterval: 1 * time.Second,
		MaxReconnectElapsed:      2 * time.Minute,
	}
}

// Client is a relay WebSocket client with automatic reconnection. Inbound
// frames dispatch through a per-type handler table registered with On; a
// handler registered after connect is picked up on the next frame because
// the table is consulted per dispatch, never captured.
type Client struct {
	config *Config
	dialer *websocket.Dialer
	conn   *websocket.Conn
	state  atomic.Int32

	handlersMu    sync.RWMutex
	handlers      map[string]FrameHandler
	defaultHandle FrameHandler
	onStateChange StateChangeHandler
	onReconnect   func()

	mu            sync.RWMutex
	writeMu       sync.Mutex
	stopChan      chan struct{}
	reconnectChan chan struct{}

	reconnects atomic.Int32
}

// New creates a relay client. Call Connect to establish the socket.
func New(config *Config) *Client {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	c := &Client{
		config:        config,
		dialer:        &dialer,
		handlers:      make(map[string]FrameHandler),
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// On registers the handler for a frame type, replacing any previous one.
func (c *Client) On(frameType string, handler FrameHandler) {
	c.handlersMu.Lock()
	c.handlers[frameType] = handler
	c.handlersMu.Unlock()
}

// OnDefault registers the fallback handler for frame types without one.
func (c *Client) OnDefault(handler FrameHandler) {
	c.handlersMu.Lock()
	c.defaultHandle = handler
	c.handlersMu.Unlock()
}

// OnStateChange registers the connection state observer.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.onStateChange = handler
}

// OnReconnect registers a callback fired after every successful reconnect.
// The relay keeps no media state across registrations, so this is where the
// caller rebuilds negotiation from zero.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

// Connect establishes the socket and starts the read and reconnect loops.
func (c *Client) Connect(ctx context.Context) error {
	if !c.casState(StateDisconnected, StateConnecting) {
		return errors.New("client is not in disconnected state")
	}

	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateConnected)

	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop()

	return nil
}

func (c *Client) dial(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/ws/sessions/%s?token=%s",
		c.config.BaseURL, c.config.SessionID, c.config.Token)

	conn, resp, err := c.dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial relay failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	if !c.casState(StateConnected, StateClosed) &&
		!c.casState(StateReconnecting, StateClosed) &&
		!c.casState(StateConnecting, StateClosed) &&
		!c.casState(StateDisconnected, StateClosed) {
		return nil
	}

	close(c.stopChan)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Reconnects returns how many times the client has reconnected.
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// Send writes a frame to the relay.
func (c *Client) Send(frame *domain.Frame) error {
	if c.State() != StateConnected {
		return errors.New("relay client is not connected")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame failed: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendChat sends a chat frame with the given text.
func (c *Client) SendChat(text string) error {
	return c.Send(&domain.Frame{
		Type:      domain.FrameTypeChat,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// SendEndSession asks the relay to finalize the session.
func (c *Client) SendEndSession() error {
	return c.Send(&domain.Frame{Type: domain.FrameTypeEndSession})
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("connection is nil")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if c.State() != StateConnected {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			c.triggerReconnect()
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.State() == StateClosed {
				return
			}
			logger.Warn("Relay read failed", zap.Error(err))
			c.triggerReconnect()
			continue
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Dropping malformed relay frame", zap.Error(err))
			continue
		}
		c.dispatch(&frame)
	}
}

func (c *Client) dispatch(frame *domain.Frame) {
	c.handlersMu.RLock()
	handler, ok := c.handlers[frame.Type]
	fallback := c.defaultHandle
	c.handlersMu.RUnlock()

	if ok {
		handler(frame)
		return
	}
	if fallback != nil {
		fallback(frame)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(c.config.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.Warn("Relay ping failed", zap.Error(err))
				c.triggerReconnect()
			}
		}
	}
}

func (c *Client) reconnectLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.doReconnect()
		}
	}
}

func (c *Client) triggerReconnect() {
	if c.casState(StateConnected, StateReconnecting) {
		select {
		case c.reconnectChan <- struct{}{}:
		default:
		}
	}
}

func (c *Client) doReconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ReconnectInitialInterval
	policy.MaxElapsedTime = c.config.MaxReconnectElapsed

	err := backoff.Retry(func() error {
		if c.State() == StateClosed {
			return backoff.Permanent(errors.New("client closed"))
		}
		return c.dial(context.Background())
	}, policy)

	if err != nil {
		logger.Error("Relay reconnect gave up", zap.Error(err))
		c.setState(StateDisconnected)
		return
	}

	c.setState(StateConnected)
	c.reconnects.Add(1)
	logger.Info("Relay reconnected",
		zap.String("session_id", c.config.SessionID.String()),
		zap.Int32("reconnects", c.reconnects.Load()))

	if c.onReconnect != nil {
		c.onReconnect()
	}
}

func (c *Client) setState(newState State) {
	oldState := State(c.state.Swap(int32(newState)))
	if oldState != newState && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
}

func (c *Client) casState(oldState, newState State) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
	return swapped
}
