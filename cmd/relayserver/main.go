// Package main provides the relay server binary: an authoritative WebSocket
// state-sync server that assigns player identities, ingests client updates,
// and broadcasts the merged world snapshot at a fixed tick rate.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/diag"
	"github.com/cory-johannsen/relay/internal/game/engine"
	"github.com/cory-johannsen/relay/internal/game/session"
	"github.com/cory-johannsen/relay/internal/game/world"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/server"
	"github.com/cory-johannsen/relay/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (built-in defaults when empty)")
	flag.Parse()

	var cfg config.Config
	var err error
	if *configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("tick_rate", cfg.Game.TickRate),
		zap.Int("max_players", cfg.Game.MaxPlayers),
	)

	// Build the core
	store := world.NewStore(cfg.Game.AnnounceDelay, logger)
	queue := engine.NewQueue(cfg.Game.QueueCapacity)
	eng := engine.New(cfg.Game, store, queue, logger)
	coordinator := session.NewCoordinator(cfg.Game, store, queue, eng.CurrentGameState, logger)
	monitor := session.NewMonitor(cfg.Liveness, coordinator, store, logger)
	acceptor := ws.NewAcceptor(cfg.Server, cfg.WebSocket, coordinator, logger)

	diag.NewHandler(store, queue, eng, logger).Register(acceptor.Handle)

	// Wire lifecycle; stop order is the reverse of start order, so the
	// listener drains its connections before the loops it feeds go down.
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownGrace+5*time.Second)
	lifecycle.Add("engine", eng)
	lifecycle.Add("liveness-monitor", monitor)
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	logger.Info("relay server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
