package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/world"
)

// Monitor is the transport-level liveness loop, independent of the engine's
// application-level inactivity sweep. It probes every tracked connection at a
// coarse interval; a connection that never acknowledged its previous probe is
// presumed dead and reclaimed. This is the only path that notices a peer that
// vanished without a close frame.
type Monitor struct {
	interval time.Duration
	coord    *Coordinator
	store    *world.Store
	logger   *zap.Logger

	quit chan struct{}
	done chan struct{}
}

// NewMonitor creates a Monitor over the coordinator's connection set.
func NewMonitor(cfg config.LivenessConfig, coord *Coordinator, store *world.Store, logger *zap.Logger) *Monitor {
	return &Monitor{
		interval: cfg.ProbeInterval,
		coord:    coord,
		store:    store,
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called. It blocks, satisfying the
// lifecycle Service contract.
func (m *Monitor) Start() error {
	m.logger.Info("liveness monitor starting", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-m.quit:
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Stop terminates the probe loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	<-m.done
}

// sweep probes each connection, evicting those that never answered the
// previous round. A freshly opened connection counts as answered until its
// first probe, so every peer gets a full interval to respond.
func (m *Monitor) sweep() {
	for _, conn := range m.coord.Connections() {
		if !conn.Answered() {
			m.evict(conn, "probe unanswered")
			continue
		}
		if err := conn.Probe(); err != nil {
			m.logger.Debug("probe send failed",
				zap.String("conn", conn.ID()),
				zap.Error(err),
			)
			m.evict(conn, "probe send failed")
		}
	}
}

func (m *Monitor) evict(conn ProbeConn, reason string) {
	if id, ok := m.store.DeregisterByConn(conn.ID()); ok {
		m.logger.Warn("dropping unresponsive connection",
			zap.String("conn", conn.ID()),
			zap.String("player", string(id)),
			zap.String("reason", reason),
		)
	} else {
		m.logger.Warn("dropping unresponsive connection",
			zap.String("conn", conn.ID()),
			zap.String("reason", reason),
		)
	}
	conn.Terminate()
	m.coord.untrack(conn.ID())
}
