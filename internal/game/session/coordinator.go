// Package session orchestrates the connection lifecycle: identity assignment,
// welcome and settle-delayed registration, close/error wiring, transport-level
// liveness monitoring, and graceful shutdown.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/engine"
	"github.com/cory-johannsen/relay/internal/game/world"
	"github.com/cory-johannsen/relay/internal/protocol"
)

// ProbeConn extends the store's connection handle with the transport-level
// probe/ack primitive the liveness monitor relies on.
type ProbeConn interface {
	world.Conn
	// Probe marks the connection as awaiting an ack and sends a probe.
	Probe() error
	// Answered reports whether the last probe has been acknowledged.
	Answered() bool
	// Terminate force-closes the transport without a close handshake.
	Terminate()
}

// GameStateFunc supplies the current world view embedded in player_connected
// messages.
type GameStateFunc func() protocol.GameState

// Coordinator wires transport events into the player store and inbound queue.
// Per connection it drives the state machine
// Connecting → Registered → Active → Deregistered.
type Coordinator struct {
	cfg     config.GameConfig
	store   *world.Store
	queue   *engine.Queue
	stateFn GameStateFunc
	logger  *zap.Logger

	nextID atomic.Uint64

	mu       sync.Mutex
	conns    map[string]ProbeConn
	draining bool
}

// NewCoordinator creates a Coordinator over the given store and queue.
//
// Precondition: store, queue, stateFn, and logger must be non-nil.
func NewCoordinator(cfg config.GameConfig, store *world.Store, queue *engine.Queue, stateFn GameStateFunc, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		queue:   queue,
		stateFn: stateFn,
		logger:  logger,
		conns:   make(map[string]ProbeConn),
	}
}

// HandleOpen runs when the transport accepts a connection: capacity check,
// identity assignment, welcome message, then registration once the settle
// delay has absorbed the client's own setup.
func (c *Coordinator) HandleOpen(conn ProbeConn) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		conn.Close("server shutting down")
		return
	}
	if c.store.Count() >= c.cfg.MaxPlayers {
		c.mu.Unlock()
		c.logger.Warn("rejecting connection, server full",
			zap.String("conn", conn.ID()),
			zap.Int("max_players", c.cfg.MaxPlayers),
		)
		conn.Close("server full")
		return
	}
	c.conns[conn.ID()] = conn
	c.mu.Unlock()

	id := c.allocateID()

	welcome := protocol.Welcome{
		Type:       protocol.TypeWelcome,
		Message:    "connected to relay server",
		PlayerID:   string(id),
		ServerTime: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(welcome)
	if err != nil {
		c.logger.Error("marshalling welcome", zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		c.logger.Debug("welcome send failed, dropping connection",
			zap.String("conn", conn.ID()),
			zap.Error(err),
		)
		c.untrack(conn.ID())
		conn.Terminate()
		return
	}

	c.logger.Info("connection accepted",
		zap.String("conn", conn.ID()),
		zap.String("player", string(id)),
	)

	time.AfterFunc(c.cfg.SettleDelay, func() {
		c.register(conn, id)
	})
}

// register completes the Connecting → Registered transition. It no-ops if the
// connection died or the server started draining during the settle delay.
func (c *Coordinator) register(conn ProbeConn, id world.PlayerID) {
	if !conn.IsOpen() {
		c.logger.Debug("connection closed before settling",
			zap.String("conn", conn.ID()),
			zap.String("player", string(id)),
		)
		c.untrack(conn.ID())
		return
	}
	c.mu.Lock()
	draining := c.draining
	c.mu.Unlock()
	if draining {
		conn.Close("server shutting down")
		return
	}

	c.store.Register(conn, id)

	msg := protocol.PlayerConnected{
		Type:         protocol.TypePlayerConnected,
		PlayerID:     string(id),
		TotalPlayers: c.store.Count(),
		GameState:    c.stateFn(),
		ServerTime:   time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshalling player_connected", zap.Error(err))
		return
	}
	if err := c.store.SendTo(id, data); err != nil {
		c.logger.Debug("player_connected send failed, removing player",
			zap.String("player", string(id)),
			zap.Error(err),
		)
		c.store.Deregister(id)
	}
}

// allocateID returns a fresh identity, retrying the counter until it lands on
// a value no currently-registered player holds.
func (c *Coordinator) allocateID() world.PlayerID {
	for {
		n := c.nextID.Add(1)
		id := world.PlayerID(fmt.Sprintf("player-%d", n))
		if !c.store.Contains(id) {
			return id
		}
	}
}

// HandleMessage enqueues an inbound frame for the next tick. Frames are never
// processed inline; that is what bounds one connection's burst impact on the
// shared tick.
func (c *Coordinator) HandleMessage(conn ProbeConn, data []byte) {
	id, _ := c.store.IDForConn(conn.ID())
	ok := c.queue.Enqueue(engine.Item{Conn: conn, PlayerID: id, Payload: data})
	if !ok {
		c.logger.Warn("inbound queue full, dropping message",
			zap.String("conn", conn.ID()),
			zap.String("player", string(id)),
		)
	}
}

// HandleClose runs on transport close or error and converges on deregister.
func (c *Coordinator) HandleClose(conn ProbeConn, reason string) {
	c.untrack(conn.ID())
	if id, ok := c.store.DeregisterByConn(conn.ID()); ok {
		c.logger.Info("connection closed",
			zap.String("conn", conn.ID()),
			zap.String("player", string(id)),
			zap.String("reason", reason),
		)
	} else {
		c.logger.Debug("unregistered connection closed",
			zap.String("conn", conn.ID()),
			zap.String("reason", reason),
		)
	}
}

// Connections returns the currently tracked transport connections.
func (c *Coordinator) Connections() []ProbeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProbeConn, 0, len(c.conns))
	for _, conn := range c.conns {
		out = append(out, conn)
	}
	return out
}

// ConnectionCount returns the number of tracked connections.
func (c *Coordinator) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *Coordinator) untrack(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, connID)
}

// Shutdown refuses further registrations, attempts a close handshake with
// every connection, and waits up to grace for the transport close events to
// drain them. Whatever remains afterwards is force-closed.
func (c *Coordinator) Shutdown(grace time.Duration) {
	c.mu.Lock()
	c.draining = true
	conns := make([]ProbeConn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	c.logger.Info("draining connections", zap.Int("count", len(conns)))
	for _, conn := range conns {
		conn.Close("server shutting down")
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if c.ConnectionCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	for _, conn := range c.Connections() {
		conn.Terminate()
		c.untrack(conn.ID())
	}
}
