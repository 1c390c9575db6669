package engine

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/world"
	"github.com/cory-johannsen/relay/internal/protocol"
)

// Stats holds the engine's diagnostic counters. All fields are atomic so the
// diagnostics endpoints can read them without touching the tick loop.
type Stats struct {
	Ticks        atomic.Uint64
	Dispatched   atomic.Uint64
	Rejected     atomic.Uint64
	Malformed    atomic.Uint64
	Unknown      atomic.Uint64
	Broadcasts   atomic.Uint64
	SendFailures atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters for JSON output.
type StatsSnapshot struct {
	Ticks        uint64 `json:"ticks"`
	Dispatched   uint64 `json:"dispatched"`
	Rejected     uint64 `json:"rejected"`
	Malformed    uint64 `json:"malformed"`
	Unknown      uint64 `json:"unknown"`
	Broadcasts   uint64 `json:"broadcasts"`
	SendFailures uint64 `json:"sendFailures"`
}

// Engine drives the fixed-rate tick loop. It is the only consumer of the
// inbound queue and the only writer of game time, so every client observes
// the same snapshot version per tick.
type Engine struct {
	cfg    config.GameConfig
	store  *world.Store
	queue  *Queue
	logger *zap.Logger

	// gameTimeBits holds the accumulated game time in milliseconds as
	// float64 bits, written by the tick loop and read by diagnostics.
	gameTimeBits atomic.Uint64

	stats Stats
	quit  chan struct{}
	done  chan struct{}
}

// New creates an Engine over the given store and queue.
//
// Precondition: store, queue, and logger must be non-nil; cfg must be valid.
func New(cfg config.GameConfig, store *world.Store, queue *Queue, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		queue:  queue,
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called. It blocks, satisfying the
// lifecycle Service contract.
func (e *Engine) Start() error {
	interval := e.cfg.TickInterval()
	e.logger.Info("broadcast engine starting",
		zap.Int("tick_rate", e.cfg.TickRate),
		zap.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-e.quit:
			return nil
		case now := <-ticker.C:
			e.runTick(now)
		}
	}
}

// Stop terminates the tick loop and waits for the in-flight tick to finish.
func (e *Engine) Stop() {
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}
	<-e.done
}

// runTick executes one tick: advance game time, sweep inactive players, drain
// a bounded batch of inbound messages, then broadcast the snapshot.
func (e *Engine) runTick(now time.Time) {
	e.stats.Ticks.Add(1)
	e.advanceGameTime()

	// Collect first, then deregister, so the sweep never mutates the store
	// while iterating it.
	for _, id := range e.store.InactiveIDs(now, e.cfg.InactivityTimeout) {
		e.logger.Info("removing inactive player",
			zap.String("player", string(id)),
			zap.Duration("timeout", e.cfg.InactivityTimeout),
		)
		e.store.Deregister(id)
	}

	for _, item := range e.queue.Drain(e.cfg.MessageBatch) {
		e.dispatch(item)
	}

	e.broadcast(now)
}

// broadcast emits the current world snapshot to every registered connection.
// Players whose transport already closed are removed before the snapshot is
// built, so the snapshot for this tick never includes them; send failures
// remove the player in the same tick.
func (e *Engine) broadcast(now time.Time) {
	for _, id := range e.store.ClosedConnIDs() {
		e.stats.SendFailures.Add(1)
		e.store.Deregister(id)
	}

	if e.store.Count() == 0 {
		return
	}

	msg := protocol.GameStateMessage{
		Type:      protocol.TypeGameState,
		GameState: e.CurrentGameState(),
		Timestamp: now.UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("marshalling game_state", zap.Error(err))
		return
	}

	for _, id := range e.store.Broadcast(data) {
		e.stats.SendFailures.Add(1)
		e.store.Deregister(id)
	}
	e.stats.Broadcasts.Add(1)
}

// CurrentGameState assembles the merged world view for game_state and
// player_connected messages.
func (e *Engine) CurrentGameState() protocol.GameState {
	return protocol.GameState{
		Players:    e.store.Snapshot(),
		MaxPlayers: e.cfg.MaxPlayers,
		GameTime:   e.GameTime(),
	}
}

// GameTime returns the accumulated game time in milliseconds. It advances by
// exactly one tick interval per tick, independent of wall-clock jitter.
func (e *Engine) GameTime() float64 {
	return math.Float64frombits(e.gameTimeBits.Load())
}

func (e *Engine) advanceGameTime() {
	next := e.GameTime() + e.cfg.TickInterval().Seconds()*1000
	e.gameTimeBits.Store(math.Float64bits(next))
}

// StatsSnapshot returns a copy of the diagnostic counters.
func (e *Engine) StatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		Ticks:        e.stats.Ticks.Load(),
		Dispatched:   e.stats.Dispatched.Load(),
		Rejected:     e.stats.Rejected.Load(),
		Malformed:    e.stats.Malformed.Load(),
		Unknown:      e.stats.Unknown.Load(),
		Broadcasts:   e.stats.Broadcasts.Load(),
		SendFailures: e.stats.SendFailures.Load(),
	}
}
