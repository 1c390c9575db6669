package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/engine"
	"github.com/cory-johannsen/relay/internal/game/session"
	"github.com/cory-johannsen/relay/internal/game/world"
	"github.com/cory-johannsen/relay/internal/protocol"
	"github.com/cory-johannsen/relay/internal/testutil"
)

type testServer struct {
	acceptor *Acceptor
	store    *world.Store
	engine   *engine.Engine
}

// startTestServer boots the full stack on an ephemeral port: store, queue,
// engine, coordinator, and acceptor.
func startTestServer(t *testing.T, maxPlayers int) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	gameCfg := config.GameConfig{
		TickRate:          50,
		MaxPlayers:        maxPlayers,
		InactivityTimeout: 45 * time.Second,
		SettleDelay:       10 * time.Millisecond,
		AnnounceDelay:     5 * time.Millisecond,
		MessageBatch:      50,
		QueueCapacity:     256,
	}
	serverCfg := config.ServerConfig{
		Host:          "127.0.0.1",
		Port:          0,
		ShutdownGrace: time.Second,
	}
	wsCfg := config.WebSocketConfig{
		ReadLimit:    1 << 20,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}

	store := world.NewStore(gameCfg.AnnounceDelay, logger)
	queue := engine.NewQueue(gameCfg.QueueCapacity)
	eng := engine.New(gameCfg, store, queue, logger)
	coord := session.NewCoordinator(gameCfg, store, queue, eng.CurrentGameState, logger)
	acc := NewAcceptor(serverCfg, wsCfg, coord, logger)

	go func() { _ = acc.ListenAndServe() }()
	go func() { _ = eng.Start() }()
	t.Cleanup(func() {
		acc.Stop()
		eng.Stop()
	})

	require.Eventually(t, func() bool {
		return acc.Addr() != ""
	}, time.Second, 2*time.Millisecond, "acceptor never started listening")

	return &testServer{acceptor: acc, store: store, engine: eng}
}

func dial(t *testing.T, srv *testServer) (*testutil.WSClient, string) {
	t.Helper()
	client := testutil.NewWSClient(t, testutil.URL(srv.acceptor.Addr(), "/ws"))
	var welcome protocol.Welcome
	require.NoError(t, json.Unmarshal(client.ReadUntilType("welcome", time.Second), &welcome))
	return client, welcome.PlayerID
}

func TestAcceptor_WelcomeAndRegistration(t *testing.T) {
	srv := startTestServer(t, 16)
	client, playerID := dial(t, srv)

	assert.NotEmpty(t, playerID)

	var connected protocol.PlayerConnected
	require.NoError(t, json.Unmarshal(client.ReadUntilType("player_connected", time.Second), &connected))
	assert.Equal(t, playerID, connected.PlayerID)
	assert.Equal(t, 1, connected.TotalPlayers)
	assert.True(t, srv.store.Contains(world.PlayerID(playerID)))
}

func TestAcceptor_PositionUpdateReachesSnapshot(t *testing.T) {
	srv := startTestServer(t, 16)
	client, playerID := dial(t, srv)
	client.ReadUntilType("player_connected", time.Second)

	client.SendJSON(map[string]any{
		"type":      "position_update",
		"position":  map[string]float64{"x": 5, "y": 1, "z": -2},
		"rotation":  map[string]float64{"y": 90},
		"animation": "run",
	})

	require.Eventually(t, func() bool {
		var msg protocol.GameStateMessage
		if err := json.Unmarshal(client.ReadUntilType("game_state", time.Second), &msg); err != nil {
			return false
		}
		snap, ok := msg.GameState.Players[playerID]
		return ok && snap.Position.X == 5 && snap.Animation == "run"
	}, 2*time.Second, time.Millisecond)
}

func TestAcceptor_PingPong(t *testing.T) {
	srv := startTestServer(t, 16)
	client, _ := dial(t, srv)
	client.ReadUntilType("player_connected", time.Second)

	client.SendJSON(map[string]any{"type": "ping", "timestamp": 987})

	var pong protocol.Pong
	require.NoError(t, json.Unmarshal(client.ReadUntilType("pong", time.Second), &pong))
	assert.Equal(t, int64(987), pong.Timestamp)
	assert.NotZero(t, pong.ServerTime)
}

func TestAcceptor_PeersSeeJoinAnnouncement(t *testing.T) {
	srv := startTestServer(t, 16)
	first, _ := dial(t, srv)
	first.ReadUntilType("player_connected", time.Second)

	second, secondID := dial(t, srv)
	second.ReadUntilType("player_connected", time.Second)

	var joined protocol.PlayerJoined
	require.NoError(t, json.Unmarshal(first.ReadUntilType("player_joined", time.Second), &joined))
	assert.Equal(t, secondID, joined.PlayerID)
	assert.NotEmpty(t, joined.PlayerData.Color)
}

func TestAcceptor_RejectsWhenFull(t *testing.T) {
	srv := startTestServer(t, 1)
	first, _ := dial(t, srv)
	first.ReadUntilType("player_connected", time.Second)

	overflow := testutil.NewWSClient(t, testutil.URL(srv.acceptor.Addr(), "/ws"))
	assert.Equal(t, "server full", overflow.ExpectClose(time.Second))
}

func TestAcceptor_Healthz(t *testing.T) {
	srv := startTestServer(t, 16)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.acceptor.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAcceptor_StopDrainsClients(t *testing.T) {
	srv := startTestServer(t, 16)
	client, _ := dial(t, srv)
	client.ReadUntilType("player_connected", time.Second)

	done := make(chan struct{})
	go func() {
		srv.acceptor.Stop()
		close(done)
	}()

	assert.Equal(t, "server shutting down", client.ExpectClose(2*time.Second))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("acceptor did not stop")
	}
	assert.False(t, srv.acceptor.IsRunning())
}

func TestAcceptor_ClientDisconnectDeregisters(t *testing.T) {
	srv := startTestServer(t, 16)
	client, playerID := dial(t, srv)
	client.ReadUntilType("player_connected", time.Second)

	client.SendJSON(map[string]any{"type": "disconnect"})

	require.Eventually(t, func() bool {
		return !srv.store.Contains(world.PlayerID(playerID))
	}, time.Second, 2*time.Millisecond)
}
