package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Structured close reasons. unauthorized and handshake-timeout tell the
// client to re-authenticate instead of silently reconnecting.
const (
	CloseReasonUnauthorized       = "unauthorized"
	CloseReasonTooManyConnections = "too-many-connections"
	CloseReasonHandshakeTimeout   = "handshake-timeout"
	CloseReasonProtocolViolation  = "protocol-violation"
)

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	sendBufSize        = 256                    // per-connection outbound buffer size
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
)

// Client is one live transport session. It starts unauthenticated; every
// frame except auth is rejected until the handshake completes, and a
// connection that never authenticates is closed by the handshake timer.
type Client struct {
	ID      string
	conn    *websocket.Conn
	hub     *Hub
	egress  chan any
	limiter *Limiter

	stateMu      sync.RWMutex
	userID       string
	authed       bool
	connectedAt  time.Time
	lastActivity time.Time
	typingTarget string

	authTimer *clock.Timer

	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

// NewClient wires a freshly upgraded connection into the hub's read and
// write pumps and arms the handshake timer. The client does not appear in the
// registry until it authenticates.
func NewClient(conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	now := h.clk.Now()

	client := &Client{
		ID:           uuid.New().String(),
		conn:         conn,
		hub:          h,
		egress:       make(chan any, sendBufSize),
		limiter:      NewLimiter(h.clk, h.opts.RateWindow, h.opts.RateMaxMessages),
		connectedAt:  now,
		lastActivity: now,
		cancel:       cancel,
		ctx:          ctx,
		connClosed:   make(chan struct{}),
	}

	client.armHandshakeTimer()

	go client.readMessages()
	go client.writeMessages()

	return client
}

// armHandshakeTimer starts the handshake window. The window is absolute from
// connection-open, never renewed; a connection that has not authenticated
// when it fires is closed and never reaches the registry.
func (c *Client) armHandshakeTimer() {
	c.authTimer = c.hub.clk.AfterFunc(c.hub.opts.HandshakeTimeout, func() {
		if !c.Authenticated() {
			c.hub.logger.Info("handshake timeout, closing connection",
				zap.String("client_id", c.ID))
			c.CloseWithReason(websocket.ClosePolicyViolation, CloseReasonHandshakeTimeout)
		}
	})
}

// UserID returns the authenticated user identity, or "" before the handshake
// completes.
func (c *Client) UserID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.userID
}

func (c *Client) Authenticated() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authed
}

func (c *Client) setAuthenticated(userID string) {
	c.stateMu.Lock()
	c.userID = userID
	c.authed = true
	c.stateMu.Unlock()
	c.authTimer.Stop()
}

func (c *Client) touch() {
	c.stateMu.Lock()
	c.lastActivity = c.hub.clk.Now()
	c.stateMu.Unlock()
}

// LastActivity returns when the connection last processed a frame.
func (c *Client) LastActivity() time.Time {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastActivity
}

func (c *Client) setTypingTarget(target string) {
	c.stateMu.Lock()
	c.typingTarget = target
	c.stateMu.Unlock()
}

// TypingTarget returns who this connection is currently typing to, or "".
func (c *Client) TypingTarget() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.typingTarget
}

// AdmitMessage consults this connection's rate window.
func (c *Client) AdmitMessage() bool {
	return c.limiter.Admit()
}

func (c *Client) readMessages() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.hub.logger.Warn("failed to unregister client: timeout",
				zap.String("client_id", c.ID))
		}
		c.Close()
	}()

	// An oversized frame is a protocol violation: the read fails and the
	// connection closes with a message-too-big close frame.
	c.conn.SetReadLimit(c.hub.opts.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.hub.logger.Debug("client disconnected", zap.String("client_id", c.ID))
					return
				}

				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseInternalServerErr,
					websocket.CloseProtocolError,
				) {
					c.hub.logger.Warn("unexpected close",
						zap.String("client_id", c.ID), zap.Error(err))
				}

				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.hub.logger.Info("client timed out, closing connection",
						zap.String("client_id", c.ID))
					return
				}

				c.hub.logger.Debug("read error",
					zap.String("client_id", c.ID), zap.Error(err))
				return
			}

			// Non-blocking handoff to this connection's worker queue to avoid
			// stalling the reader.
			select {
			case c.hub.inboundQueue(c) <- inboundFrame{client: c, data: data}:
			case <-time.After(inboundSendTimeout):
				c.hub.logger.Warn("inbound queue full, dropping client",
					zap.String("client_id", c.ID))
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.hub.logger.Debug("write error",
					zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// CloseWithReason sends a terminal close frame carrying a structured reason,
// then tears the client down.
func (c *Client) CloseWithReason(code int, reason string) {
	if c.conn != nil {
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
	}
	c.Close()
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.authTimer.Stop()
		c.cancel()
		close(c.egress)

		if c.conn == nil {
			return
		}

		// Wait for the write pump to close the conn, or force close.
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
				c.hub.logger.Warn("safety timeout: force closed connection",
					zap.String("client_id", c.ID))
			}
		}()
	})
}

// IsClosed returns true if the client has been torn down.
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// SafeSend attempts to enqueue a frame for this connection. Returns false if
// the client is closed or the egress buffer stays full past the timeout.
func (c *Client) SafeSend(frame any, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- frame:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Reply enqueues a frame for the submitting connection only.
func (c *Client) Reply(frame any) bool {
	return c.SafeSend(frame, sendTimeout)
}
