// Package diag exposes read-only HTTP diagnostics for the relay server:
// aggregate status and the per-player connection list.
package diag

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/game/engine"
	"github.com/cory-johannsen/relay/internal/game/world"
)

// Handler serves the diagnostics endpoints. All data comes from lock-free
// counter reads or short store snapshots, so polling it never stalls the tick.
type Handler struct {
	store   *world.Store
	queue   *engine.Queue
	engine  *engine.Engine
	logger  *zap.Logger
	started time.Time
}

// NewHandler creates a diagnostics handler over the running components.
//
// Precondition: store, queue, eng, and logger must be non-nil.
func NewHandler(store *world.Store, queue *engine.Queue, eng *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		queue:   queue,
		engine:  eng,
		logger:  logger,
		started: time.Now(),
	}
}

// Register mounts the diagnostics routes through the given mount function.
func (h *Handler) Register(mount func(pattern string, handler http.Handler)) {
	mount("/status", http.HandlerFunc(h.handleStatus))
	mount("/players", http.HandlerFunc(h.handlePlayers))
}

// StatusResponse is the aggregate server view returned by /status.
type StatusResponse struct {
	PlayerCount   int                  `json:"playerCount"`
	UptimeSeconds float64              `json:"uptimeSeconds"`
	GameTime      float64              `json:"gameTime"`
	QueueDepth    int                  `json:"queueDepth"`
	QueueDropped  uint64               `json:"queueDropped"`
	Engine        engine.StatsSnapshot `json:"engine"`
}

// PlayersResponse lists the registered players returned by /players.
type PlayersResponse struct {
	Count   int                  `json:"count"`
	Players []world.PlayerStatus `json:"players"`
}

// Status assembles the aggregate server view.
func (h *Handler) Status() StatusResponse {
	return StatusResponse{
		PlayerCount:   h.store.Count(),
		UptimeSeconds: time.Since(h.started).Seconds(),
		GameTime:      h.engine.GameTime(),
		QueueDepth:    h.queue.Len(),
		QueueDropped:  h.queue.Dropped(),
		Engine:        h.engine.StatsSnapshot(),
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, h.Status())
}

func (h *Handler) handlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	statuses := h.store.Statuses()
	h.writeJSON(w, PlayersResponse{Count: len(statuses), Players: statuses})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding diagnostics response", zap.Error(err))
	}
}
