package testutil

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a simple WebSocket test client for integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening WebSocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// SendJSON marshals v and writes it as a single text frame.
func (c *WSClient) SendJSON(v any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("sending %+v: %v", v, err)
	}
}

// ReadMessage reads the next frame, failing the test after timeout.
func (c *WSClient) ReadMessage(timeout time.Duration) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	return payload
}

// ReadUntilType reads frames until one carries the given "type" discriminator,
// returning its raw payload. Fails the test when the deadline passes first.
//
// Precondition: msgType must be non-empty.
func (c *WSClient) ReadUntilType(msgType string, timeout time.Duration) []byte {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_ = c.conn.SetReadDeadline(deadline)
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until type %q: %v", msgType, err)
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &env); err == nil && env.Type == msgType {
			return payload
		}
	}
	c.t.Fatalf("no %q message within %s", msgType, timeout)
	return nil
}

// ExpectClose reads until the server closes the connection, returning the
// close reason. Fails the test if a close never arrives.
func (c *WSClient) ExpectClose(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		if closeErr, ok := err.(*websocket.CloseError); ok {
			return closeErr.Text
		}
		c.t.Fatalf("expected close frame, got: %v", err)
		return ""
	}
}

// URL converts a host:port listen address into a ws:// endpoint URL.
func URL(addr, path string) string {
	return fmt.Sprintf("ws://%s%s", addr, path)
}
