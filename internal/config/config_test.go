package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			ShutdownGrace: 5 * time.Second,
		},
		Game: GameConfig{
			TickRate:          20,
			MaxPlayers:        16,
			InactivityTimeout: 45 * time.Second,
			SettleDelay:       100 * time.Millisecond,
			AnnounceDelay:     50 * time.Millisecond,
			MessageBatch:      50,
			QueueCapacity:     1024,
		},
		Liveness: LivenessConfig{
			ProbeInterval: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    1 << 20,
			ReadTimeout:  90 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendBuffer:   64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_BadTickRate(t *testing.T) {
	cfg := validConfig()
	cfg.Game.TickRate = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "game.tick_rate")
}

func TestValidate_BadInactivityTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Game.InactivityTimeout = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "game.inactivity_timeout")
}

func TestValidate_NegativeSettleDelay(t *testing.T) {
	cfg := validConfig()
	cfg.Game.SettleDelay = -time.Millisecond
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "game.settle_delay")
}

func TestValidate_BadLogging(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")

	cfg = validConfig()
	cfg.Logging.Format = "xml"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_CollectsMultipleViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Game.MessageBatch = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "game.message_batch")
}

func TestLoad_FileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := []byte("server:\n  port: 9001\ngame:\n  tick_rate: 30\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Game.TickRate)
	// Untouched sections come from defaults.
	assert.Equal(t, 45*time.Second, cfg.Game.InactivityTimeout)
	assert.Equal(t, 30*time.Second, cfg.Liveness.ProbeInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := []byte("game:\n  tick_rate: -5\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "game.tick_rate")
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Game.TickRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Game.TickInterval())
}

func TestTickInterval(t *testing.T) {
	g := GameConfig{TickRate: 20}
	assert.Equal(t, 50*time.Millisecond, g.TickInterval())
	g.TickRate = 60
	assert.Equal(t, time.Second/60, g.TickInterval())
}

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

func TestPropertyValidTickRates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.IntRange(1, 1000).Draw(t, "rate")
		cfg := validConfig()
		cfg.Game.TickRate = rate
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid tick rate %d rejected: %v", rate, err)
		}
	})
}
