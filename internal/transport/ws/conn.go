// Package ws provides the WebSocket transport: connection handles with
// buffered non-blocking sends and the HTTP acceptor that upgrades clients and
// feeds lifecycle events into the session layer.
package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
)

// Conn wraps a WebSocket connection behind a buffered send queue so the tick
// loop never blocks on a slow client. A dedicated write pump is the only
// writer of data frames; control frames go through WriteControl, which gorilla
// allows concurrently.
type Conn struct {
	id     string
	ws     *websocket.Conn
	cfg    config.WebSocketConfig
	logger *zap.Logger

	send chan []byte

	mu          sync.Mutex
	open        bool
	awaitingAck bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
		open:   true,
		closed: make(chan struct{}),
	}
}

// ID returns the connection handle identifier.
func (c *Conn) ID() string { return c.id }

// Send queues a frame for the write pump. It fails without blocking when the
// connection is closed or the buffer is full; callers treat either as a dead
// peer.
func (c *Conn) Send(data []byte) error {
	if !c.IsOpen() {
		return fmt.Errorf("conn %s closed", c.id)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("conn %s send buffer full", c.id)
	}
}

// IsOpen reports whether the connection still accepts sends.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close performs a close handshake carrying reason, then tears the transport
// down. Safe to call more than once.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.markClosed()
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, payload, deadline); err != nil {
			c.logger.Debug("close handshake failed",
				zap.String("conn", c.id),
				zap.Error(err),
			)
		}
		_ = c.ws.Close()
	})
}

// Terminate force-closes the transport without a close handshake.
func (c *Conn) Terminate() {
	c.closeOnce.Do(func() {
		c.markClosed()
		_ = c.ws.Close()
	})
}

// Probe sends a transport-level ping and marks the connection awaiting the
// pong the read pump records.
func (c *Conn) Probe() error {
	c.mu.Lock()
	c.awaitingAck = true
	c.mu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Answered reports whether the last probe has been acknowledged.
func (c *Conn) Answered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.awaitingAck
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	close(c.closed)
}

// writePump drains the send queue onto the wire. It exits when the connection
// closes or a write fails.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed",
					zap.String("conn", c.id),
					zap.Error(err),
				)
				c.Terminate()
				return
			}
		}
	}
}

// readPump reads client frames until the connection dies, forwarding each to
// onMessage and finally reporting the cause to onClose. Pongs answer the
// liveness probe and extend the read deadline.
func (c *Conn) readPump(onMessage func(data []byte), onClose func(reason string)) {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.awaitingAck = false
		c.mu.Unlock()
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			reason := "read error"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "client closed"
			}
			c.Terminate()
			onClose(reason)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		onMessage(payload)
	}
}
