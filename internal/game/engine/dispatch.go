package engine

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/game/world"
	"github.com/cory-johannsen/relay/internal/protocol"
)

// handlerFunc processes one decoded client message for a registered sender.
type handlerFunc func(e *Engine, item Item, env protocol.ClientEnvelope)

// handlers is the dispatch table over the closed set of client message kinds.
// Types absent from the table are the explicit "unknown" variant: dropped
// with a diagnostic log, never fatal.
var handlers = map[protocol.MessageType]handlerFunc{
	protocol.TypePositionUpdate: handlePositionUpdate,
	protocol.TypePing:           handlePing,
	protocol.TypeHeartbeat:      handleHeartbeat,
	protocol.TypeSystemInfo:     handleSystemInfo,
	protocol.TypeDisconnect:     handleDisconnect,
}

// dispatch decodes and routes one queued inbound message. Every failure mode
// is contained per message: the rest of the batch and all other players are
// unaffected.
func (e *Engine) dispatch(item Item) {
	env, err := protocol.Decode(item.Payload)
	if err != nil {
		e.stats.Malformed.Add(1)
		e.logger.Debug("dropping malformed message",
			zap.String("conn", connID(item)),
			zap.Error(err),
		)
		return
	}

	if item.PlayerID == "" || !e.store.Contains(item.PlayerID) {
		e.stats.Rejected.Add(1)
		e.logger.Debug("dropping message from unregistered sender",
			zap.String("conn", connID(item)),
			zap.String("type", string(env.Type)),
		)
		return
	}

	e.store.Touch(item.PlayerID)
	e.store.NoteReceived(item.PlayerID)

	h, ok := handlers[env.Type]
	if !ok {
		e.stats.Unknown.Add(1)
		e.logger.Debug("dropping message with unknown type",
			zap.String("player", string(item.PlayerID)),
			zap.String("type", string(env.Type)),
		)
		return
	}

	h(e, item, env)
	e.stats.Dispatched.Add(1)
}

func handlePositionUpdate(e *Engine, item Item, env protocol.ClientEnvelope) {
	position, err := protocol.DecodeVector(env.Position)
	if err != nil {
		e.stats.Malformed.Add(1)
		e.logger.Debug("dropping position_update with bad position",
			zap.String("player", string(item.PlayerID)),
			zap.Error(err),
		)
		return
	}
	rotation, err := protocol.DecodeVector(env.Rotation)
	if err != nil {
		e.stats.Malformed.Add(1)
		e.logger.Debug("dropping position_update with bad rotation",
			zap.String("player", string(item.PlayerID)),
			zap.Error(err),
		)
		return
	}
	e.store.UpdateTransform(item.PlayerID, position, rotation, env.Animation)
}

func handlePing(e *Engine, item Item, env protocol.ClientEnvelope) {
	e.reply(item.PlayerID, protocol.Pong{
		Type:       protocol.TypePong,
		Timestamp:  env.Timestamp,
		ServerTime: time.Now().UnixMilli(),
	})
}

func handleHeartbeat(e *Engine, item Item, _ protocol.ClientEnvelope) {
	e.reply(item.PlayerID, protocol.HeartbeatResponse{
		Type:      protocol.TypeHeartbeatResponse,
		Timestamp: time.Now().UnixMilli(),
	})
}

func handleSystemInfo(e *Engine, item Item, env protocol.ClientEnvelope) {
	e.logger.Debug("client system info",
		zap.String("player", string(item.PlayerID)),
		zap.String("platform", env.Platform),
		zap.String("runtime", env.Runtime),
		zap.String("network", env.Network),
	)
	e.reply(item.PlayerID, protocol.SystemInfoReceived{
		Type:    protocol.TypeSystemInfoReceived,
		Message: "system info received",
	})
}

func handleDisconnect(e *Engine, item Item, _ protocol.ClientEnvelope) {
	e.logger.Info("player requested disconnect",
		zap.String("player", string(item.PlayerID)),
	)
	e.store.Deregister(item.PlayerID)
}

// reply sends a direct point-to-point message to a single player. A failed
// reply converges on the same path as every other per-connection failure:
// deregistration.
func (e *Engine) reply(id world.PlayerID, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("marshalling reply", zap.Error(err))
		return
	}
	if err := e.store.SendTo(id, data); err != nil {
		e.stats.SendFailures.Add(1)
		e.logger.Debug("direct reply failed, removing player",
			zap.String("player", string(id)),
			zap.Error(err),
		)
		e.store.Deregister(id)
	}
}

func connID(item Item) string {
	if item.Conn == nil {
		return ""
	}
	return item.Conn.ID()
}
