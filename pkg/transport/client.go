// Package transport owns the single streaming connection to the
// council orchestration server.
//
// Inbound frames are decoded and handed to a single subscriber,
// synchronously and in arrival order, one frame at a time. The client
// additionally keeps the most recently decoded event in a
// "latest message" slot rather than a queue: a consumer that reads the
// slot lazily is not guaranteed to see every event. The intended (and
// only supported) usage is one subscriber attached via SetHandler that
// consumes each event inside the callback, which loses nothing.
//
// Outbound commands are at-most-once: Send transmits only while the
// connection is up and otherwise logs and drops. There is no outbound
// queue.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/councilhq/quorum/pkg/metrics"
	"github.com/councilhq/quorum/pkg/wire"
)

// Status is the connection lifecycle state. It changes only on
// open/close transitions; dial errors set LastErr without introducing
// an extra state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ErrReconnectLimit is recorded as the last error once the reconnect
// attempt cap is exhausted. No further reconnects are scheduled; the
// caller must invoke Connect again to retry.
var ErrReconnectLimit = errors.New("transport: reconnect attempt limit reached")

const (
	defaultHeartbeatInterval    = 30 * time.Second
	defaultReconnectBaseDelay   = time.Second
	defaultMaxReconnectAttempts = 5
	dialTimeout                 = 15 * time.Second
	pingTimeout                 = 10 * time.Second
)

// Handler consumes one decoded inbound event. It is invoked from the
// read loop goroutine, so processing must be quick and must not block.
type Handler func(wire.Event)

// Options configures a Client. Zero values pick the defaults above.
type Options struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	Metrics              *metrics.Transport
	Logger               *slog.Logger
}

// Client manages the WebSocket connection: connect, heartbeat,
// reconnect with linear backoff, inbound decode, outbound send.
type Client struct {
	url            string
	heartbeatEvery time.Duration
	reconnectBase  time.Duration
	maxAttempts    int
	m              *metrics.Transport
	logger         *slog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	status         Status
	attempts       int
	lastErr        error
	latest         wire.Event
	handler        Handler
	closing        bool
	reconnectTimer *time.Timer
	readCancel     context.CancelFunc
	heartbeatStop  context.CancelFunc
}

// NewClient creates a disconnected client for the given options.
func NewClient(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:            opts.URL,
		heartbeatEvery: opts.HeartbeatInterval,
		reconnectBase:  opts.ReconnectBaseDelay,
		maxAttempts:    opts.MaxReconnectAttempts,
		m:              opts.Metrics,
		logger:         opts.Logger,
		status:         StatusDisconnected,
	}
}

// SetHandler registers the single inbound subscriber. Must be called
// before Connect.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect establishes the WebSocket connection. It is idempotent: a
// call while already connected (or mid-handshake) is a no-op. A
// successful open resets the reconnect attempt counter and last error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.status = StatusConnecting
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.status = StatusDisconnected
		if !c.closing {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closing {
		// Disconnect raced the handshake; drop the fresh connection.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	c.conn = conn
	c.status = StatusConnected
	c.attempts = 0
	c.lastErr = nil
	readCtx, readCancel := context.WithCancel(context.Background())
	c.readCancel = readCancel
	hbCtx, hbCancel := context.WithCancel(context.Background())
	c.heartbeatStop = hbCancel
	c.mu.Unlock()

	c.logger.Info("Transport connected", "url", c.url)
	go c.readLoop(readCtx, conn)
	go c.heartbeat(hbCtx, conn)
	return nil
}

// Disconnect closes the connection with a client-initiated close code.
// Intentional disconnects never trigger reconnection, and the attempt
// counter is reset for the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.status = StatusDisconnected
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatStop != nil {
		c.heartbeatStop()
		c.heartbeatStop = nil
	}
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Send serializes and transmits a command while connected. While
// disconnected the command is logged and dropped — outbound delivery
// is at-most-once.
func (c *Client) Send(ctx context.Context, cmd wire.Command) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn("Dropping command while disconnected", "cmd", cmd.Cmd)
		c.m.IncDroppedCommands()
		return nil
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command %s: %w", cmd.Cmd, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send command %s: %w", cmd.Cmd, err)
	}
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastErr returns the most recent transport error, if any.
func (c *Client) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Latest returns the most recently decoded inbound event. See the
// package doc for the single-subscriber constraint on this slot.
func (c *Client) Latest() wire.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// ReconnectAttempts returns the current reconnect attempt counter.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// readLoop reads frames until the connection drops, decoding each and
// invoking the subscriber synchronously. One state update per frame,
// in order — frames are never batched or coalesced.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.m.IncFrames()

		ev, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("Discarding malformed frame", "error", err)
			c.m.IncMalformed()
			continue
		}

		c.mu.Lock()
		c.latest = ev
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

// handleClose runs when the read loop exits. Client-initiated closes
// stop here; unexpected ones schedule a reconnect.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		// A stale read loop from a connection already replaced or
		// torn down by Disconnect.
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
	if c.heartbeatStop != nil {
		c.heartbeatStop()
		c.heartbeatStop = nil
	}
	c.readCancel = nil

	if c.closing {
		return
	}

	c.lastErr = err
	c.logger.Warn("Connection lost", "error", err)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer with linear backoff
// (base delay × attempt number). Exceeding the attempt cap records
// ErrReconnectLimit and stops retrying. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.maxAttempts {
		c.lastErr = ErrReconnectLimit
		c.logger.Error("Reconnect attempts exhausted", "attempts", c.attempts)
		return
	}
	c.attempts++
	delay := time.Duration(c.attempts) * c.reconnectBase
	c.m.IncReconnects()
	c.logger.Info("Scheduling reconnect", "attempt", c.attempts, "delay", delay)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		skip := c.closing || c.status != StatusDisconnected
		c.mu.Unlock()
		if skip {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		// A failed dial schedules the next attempt itself.
		_ = c.Connect(ctx)
	})
}

// heartbeat pings the server at a fixed interval while connected so
// intermediaries keep the connection alive.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Warn("Heartbeat ping failed", "error", err)
				return
			}
		}
	}
}
