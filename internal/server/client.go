package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/config"
	"github.com/xatrelay/xatrelay/internal/relay"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Client is one websocket connection. The read pump feeds inbound frames to
// the connection's relay session; the write pump drains the buffered send
// channel, which the rooms fill through Deliver.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	session *relay.Session
	logger  zerolog.Logger
	addr    string

	limiter   *tokenBucket
	rateLimit config.RateLimitConfig

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection. The caller registers the returned
// client with the hub, which launches its pumps.
func NewClient(conn *websocket.Conn, hub *Hub, registry *relay.Registry, cfg *config.Config, addr string, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	c := &Client{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, cfg.SendBuffer),
		hub:       hub,
		addr:      addr,
		limiter:   newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit: cfg.RateLimit,
	}
	c.logger = logger.With().Str("client", c.id).Str("addr", addr).Logger()
	c.session = relay.NewSession(registry, c, c.logger)
	return c
}

// ID returns the client's connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Session returns the client's relay session.
func (c *Client) Session() *relay.Session {
	return c.session
}

// Deliver implements relay.Subscriber. It queues the payload without
// blocking and reports false when the client is closed or its buffer is
// full; the room drops the subscriber in response.
func (c *Client) Deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend marks the client closed and shuts its send channel. Safe to call
// more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		// During hub shutdown the event loop is gone; the session is closed
		// there instead, so don't block on the unregister channel.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error closing connection in read pump")
		}
	}()

	c.setupReadDeadlines()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.allow() {
			c.logger.Warn().
				Int("burst", c.rateLimit.Burst).
				Dur("interval", c.rateLimit.RefillInterval).
				Msg("rate limit exceeded, discarding frame")
			continue
		}

		c.session.HandleFrame(payload)
	}
}

func (c *Client) setupReadDeadlines() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError classifies the terminal read error for logging.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Msg("frame exceeded maximum message size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info().Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Info().Msg("connection closed")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error closing connection in write pump")
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("error setting write deadline")
				return
			}
			if !ok {
				// Hub closed the send channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeFrame(payload) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame writes one payload per websocket message. Frames are not
// coalesced: each payload is a complete JSON document the browser parses
// individually.
func (c *Client) writeFrame(payload []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing frame")
		}
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
