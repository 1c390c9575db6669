// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ShutdownGrace bounds the wait for in-flight close handshakes on shutdown.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GameConfig holds the state-sync engine settings.
type GameConfig struct {
	// TickRate is the broadcast frequency in ticks per second.
	TickRate int `mapstructure:"tick_rate"`
	// MaxPlayers caps the number of simultaneously registered players.
	MaxPlayers int `mapstructure:"max_players"`
	// InactivityTimeout is how long a player may stay silent before the
	// tick sweep removes them.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	// SettleDelay is the pause between accepting a connection and
	// registering its player, absorbing client-side setup races.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// AnnounceDelay defers join/leave announcements so a new player never
	// observes its own join before its welcome.
	AnnounceDelay time.Duration `mapstructure:"announce_delay"`
	// MessageBatch is the maximum number of queued inbound messages
	// processed per tick.
	MessageBatch int `mapstructure:"message_batch"`
	// QueueCapacity bounds the inbound message queue; messages beyond it
	// are dropped.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// TickInterval returns the duration of one server tick.
//
// Precondition: TickRate must be > 0.
func (g GameConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(g.TickRate)
}

// LivenessConfig holds transport-level dead-connection detection settings.
type LivenessConfig struct {
	// ProbeInterval is the period between liveness probe rounds.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// WebSocketConfig holds per-connection transport settings.
type WebSocketConfig struct {
	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// ReadTimeout is the idle read deadline; pongs and inbound frames reset it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendBuffer is the per-connection outbound queue length; a full buffer
	// counts as a send failure.
	SendBuffer int `mapstructure:"send_buffer"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, routes output to a size-capped rolling log file
	// instead of stderr.
	File string `mapstructure:"file"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Game      GameConfig      `mapstructure:"game"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLiveness(c.Liveness); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownGrace < 0 {
		errs = append(errs, "server.shutdown_grace must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.TickRate < 1 || g.TickRate > 1000 {
		errs = append(errs, fmt.Sprintf("game.tick_rate must be 1-1000, got %d", g.TickRate))
	}
	if g.MaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("game.max_players must be >= 1, got %d", g.MaxPlayers))
	}
	if g.InactivityTimeout <= 0 {
		errs = append(errs, "game.inactivity_timeout must be positive")
	}
	if g.SettleDelay < 0 {
		errs = append(errs, "game.settle_delay must not be negative")
	}
	if g.AnnounceDelay < 0 {
		errs = append(errs, "game.announce_delay must not be negative")
	}
	if g.MessageBatch < 1 {
		errs = append(errs, fmt.Sprintf("game.message_batch must be >= 1, got %d", g.MessageBatch))
	}
	if g.QueueCapacity < 1 {
		errs = append(errs, fmt.Sprintf("game.queue_capacity must be >= 1, got %d", g.QueueCapacity))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLiveness(l LivenessConfig) error {
	if l.ProbeInterval <= 0 {
		return fmt.Errorf("liveness.probe_interval must be positive, got %s", l.ProbeInterval)
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("websocket.read_limit must be >= 1, got %d", w.ReadLimit))
	}
	if w.ReadTimeout <= 0 {
		errs = append(errs, "websocket.read_timeout must be positive")
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file is supplied.
//
// Postcondition: The returned Config passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are statically valid; Unmarshal cannot fail on them.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_grace", "5s")

	v.SetDefault("game.tick_rate", 20)
	v.SetDefault("game.max_players", 16)
	v.SetDefault("game.inactivity_timeout", "45s")
	v.SetDefault("game.settle_delay", "100ms")
	v.SetDefault("game.announce_delay", "50ms")
	v.SetDefault("game.message_batch", 50)
	v.SetDefault("game.queue_capacity", 1024)

	v.SetDefault("liveness.probe_interval", "30s")

	v.SetDefault("websocket.read_limit", 1<<20)
	v.SetDefault("websocket.read_timeout", "90s")
	v.SetDefault("websocket.write_timeout", "5s")
	v.SetDefault("websocket.send_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}
