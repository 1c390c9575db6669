// Package testutil provides shared test doubles and client helpers for the
// relay server.
package testutil

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FakeConn is an in-memory connection double implementing the transport
// surface the core packages depend on: non-blocking sends, close with reason,
// open reporting, and liveness probing. Safe for concurrent use.
type FakeConn struct {
	mu          sync.Mutex
	id          string
	open        bool
	frames      [][]byte
	closeReason string
	sendErr     error
	probes      int
	awaitingAck bool
	terminated  bool
}

// NewFakeConn returns an open fake connection with the given handle ID.
func NewFakeConn(id string) *FakeConn {
	return &FakeConn{id: id, open: true}
}

// ID returns the connection handle identifier.
func (c *FakeConn) ID() string { return c.id }

// Send records the frame, or fails if the connection is closed or a send
// error has been injected with FailSends.
func (c *FakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return fmt.Errorf("conn %s closed", c.id)
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	c.frames = append(c.frames, frame)
	return nil
}

// Close marks the connection closed, recording the first reason given.
func (c *FakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.open = false
		c.closeReason = reason
	}
}

// IsOpen reports whether the connection still accepts sends.
func (c *FakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Probe counts a liveness probe and marks the connection awaiting an ack.
func (c *FakeConn) Probe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return fmt.Errorf("conn %s closed", c.id)
	}
	c.probes++
	c.awaitingAck = true
	return nil
}

// Answered reports whether the last probe has been acknowledged.
func (c *FakeConn) Answered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.awaitingAck
}

// AckProbe simulates the transport-level pong answering the last probe.
func (c *FakeConn) AckProbe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingAck = false
}

// Terminate force-closes the connection without a close handshake.
func (c *FakeConn) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.terminated = true
}

// FailSends makes subsequent Send calls return err (nil restores success).
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Frames returns a copy of every frame sent so far.
func (c *FakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// MessageTypes decodes the "type" discriminator of every sent frame, in order.
func (c *FakeConn) MessageTypes() []string {
	var types []string
	for _, frame := range c.Frames() {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &env); err == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

// CloseReason returns the reason recorded by the first Close call.
func (c *FakeConn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Probes returns the number of liveness probes received.
func (c *FakeConn) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

// Terminated reports whether the connection was force-closed.
func (c *FakeConn) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}
