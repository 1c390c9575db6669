package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/world"
	"github.com/cory-johannsen/relay/internal/testutil"
)

func newTestMonitor(t *testing.T, interval time.Duration) (*Monitor, *Coordinator, *world.Store) {
	t.Helper()
	coord, store, _ := newTestCoordinator(t, testSessionConfig())
	monitor := NewMonitor(config.LivenessConfig{ProbeInterval: interval}, coord, store, zaptest.NewLogger(t))
	return monitor, coord, store
}

func TestSweep_ProbesEveryConnection(t *testing.T) {
	monitor, coord, store := newTestMonitor(t, time.Minute)
	c1 := testutil.NewFakeConn("c1")
	c2 := testutil.NewFakeConn("c2")
	coord.HandleOpen(c1)
	coord.HandleOpen(c2)
	waitRegistered(t, store, "player-1")
	waitRegistered(t, store, "player-2")

	monitor.sweep()

	assert.Equal(t, 1, c1.Probes())
	assert.Equal(t, 1, c2.Probes())
	assert.True(t, c1.IsOpen())
	assert.True(t, c2.IsOpen())
}

func TestSweep_EvictsUnansweredConnection(t *testing.T) {
	monitor, coord, store := newTestMonitor(t, time.Minute)
	live := testutil.NewFakeConn("live")
	dead := testutil.NewFakeConn("dead")
	coord.HandleOpen(live)
	coord.HandleOpen(dead)
	waitRegistered(t, store, "player-1")
	waitRegistered(t, store, "player-2")

	monitor.sweep()
	live.AckProbe()
	monitor.sweep()

	assert.True(t, dead.Terminated())
	assert.False(t, store.Contains("player-2"))
	assert.Equal(t, 1, coord.ConnectionCount())

	assert.True(t, live.IsOpen())
	assert.True(t, store.Contains("player-1"))
	assert.Equal(t, 2, live.Probes())
}

func TestSweep_EvictsWhenProbeSendFails(t *testing.T) {
	monitor, coord, store := newTestMonitor(t, time.Minute)
	conn := testutil.NewFakeConn("c1")
	coord.HandleOpen(conn)
	waitRegistered(t, store, "player-1")

	// A closed transport fails the probe send itself.
	conn.Close("carrier lost")
	monitor.sweep()

	assert.True(t, conn.Terminated())
	assert.False(t, store.Contains("player-1"))
	assert.Zero(t, coord.ConnectionCount())
}

func TestMonitor_StartStop(t *testing.T) {
	monitor, coord, store := newTestMonitor(t, 5*time.Millisecond)
	conn := testutil.NewFakeConn("c1")
	coord.HandleOpen(conn)
	waitRegistered(t, store, "player-1")

	done := make(chan error, 1)
	go func() { done <- monitor.Start() }()

	require.Eventually(t, func() bool {
		conn.AckProbe()
		return conn.Probes() >= 2
	}, time.Second, time.Millisecond, "loop should keep probing an answering connection")

	monitor.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
