package ws

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/session"
)

// SessionEvents receives connection lifecycle events from the transport.
// *session.Coordinator is the production implementation.
type SessionEvents interface {
	HandleOpen(conn session.ProbeConn)
	HandleMessage(conn session.ProbeConn, data []byte)
	HandleClose(conn session.ProbeConn, reason string)
	Shutdown(grace time.Duration)
}

// Acceptor listens for WebSocket upgrades on an HTTP port and dispatches each
// connection's events to the session layer.
type Acceptor struct {
	serverCfg config.ServerConfig
	wsCfg     config.WebSocketConfig
	session   SessionEvents
	logger    *zap.Logger

	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	running  bool
	quit     chan struct{}
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: serverCfg must have a valid port; sess and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(serverCfg config.ServerConfig, wsCfg config.WebSocketConfig, sess SessionEvents, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		serverCfg: serverCfg,
		wsCfg:     wsCfg,
		session:   sess,
		logger:    logger,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
	a.mux.HandleFunc("/ws", a.handleUpgrade)
	a.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return a
}

// Handle mounts an additional HTTP handler, such as the diagnostics endpoints.
//
// Precondition: The acceptor must not be running yet.
func (a *Acceptor) Handle(pattern string, handler http.Handler) {
	a.mux.Handle(pattern, handler)
}

// ListenAndServe starts the HTTP listener and serves upgrades until Stop is
// called. This method blocks until the acceptor is stopped.
//
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.serverCfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.serverCfg.Addr(), err)
	}

	server := &http.Server{Handler: a.mux}

	a.mu.Lock()
	a.listener = listener
	a.server = server
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		select {
		case <-a.quit:
			return nil
		default:
			return fmt.Errorf("serving on %s: %w", a.serverCfg.Addr(), err)
		}
	}
	return nil
}

// handleUpgrade upgrades one HTTP request and wires the resulting connection
// into the session layer.
func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := newConn(raw, a.wsCfg, a.logger)
	a.logger.Info("client connected",
		zap.String("conn", conn.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go conn.writePump()
	a.session.HandleOpen(conn)
	go conn.readPump(
		func(data []byte) { a.session.HandleMessage(conn, data) },
		func(reason string) { a.session.HandleClose(conn, reason) },
	)
}

// Stop gracefully stops the acceptor: it stops accepting new connections,
// drains the session layer within the shutdown grace period, then closes the
// HTTP server.
//
// Postcondition: All connections are closed when this method returns.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	listener := a.listener
	server := a.server
	a.mu.Unlock()

	close(a.quit)
	if listener != nil {
		_ = listener.Close()
	}

	a.session.Shutdown(a.serverCfg.ShutdownGrace)

	if server != nil {
		_ = server.Close()
	}
	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
