// Package world owns the authoritative state of the relay session: the player
// store, the connection registry, and the world snapshot broadcast every tick.
package world

import (
	"time"

	"github.com/cory-johannsen/relay/internal/protocol"
)

// PlayerID is the opaque identity of a registered player. IDs are assigned by
// the session coordinator from a monotonic counter and never reused while the
// previous holder is still registered.
type PlayerID string

// Conn is the store's handle to a client connection. The store sends through
// it and may close it, but never owns its lifecycle; the transport layer does.
type Conn interface {
	// ID returns the opaque connection handle identifier.
	ID() string
	// Send enqueues a frame for delivery. It must not block; a closed
	// connection or full outbound buffer yields an error.
	Send(data []byte) error
	// Close performs a close handshake with the given reason. Safe to call
	// more than once.
	Close(reason string)
	// IsOpen reports whether the connection can still accept sends.
	IsOpen() bool
}

// DefaultAnimation is the animation label assigned at registration.
const DefaultAnimation = "idle"

// palette holds the eight player colors; a player's color is the palette
// entry at its numeric identity index mod 8.
var palette = [8]string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FECA57",
	"#FF9FF3",
	"#54A0FF",
	"#5F27CD",
}

// ColorForIndex returns the palette color for a numeric identity index.
func ColorForIndex(index uint64) string {
	return palette[index%uint64(len(palette))]
}

// playerIndex extracts the numeric value embedded in an identity such as
// "player-12". Identities without digits map to index 0.
func playerIndex(id PlayerID) uint64 {
	var n uint64
	for _, r := range id {
		if r >= '0' && r <= '9' {
			n = n*10 + uint64(r-'0')
		}
	}
	return n
}

// Player is the authoritative per-player state. It is owned exclusively by
// the Store; all access goes through Store methods.
type Player struct {
	ID               PlayerID
	Conn             Conn
	Position         protocol.Vector3
	Rotation         protocol.Vector3
	Animation        string
	Color            string
	LastActivity     time.Time
	MessagesSent     uint64
	MessagesReceived uint64
}

// view returns the broadcastable slice of the player state.
func (p *Player) view() protocol.PlayerSnapshot {
	return protocol.PlayerSnapshot{
		Position:  p.Position,
		Rotation:  p.Rotation,
		Animation: p.Animation,
		Color:     p.Color,
	}
}

// PlayerStatus is the read-only diagnostic view of a player exposed by the
// HTTP status endpoints.
type PlayerStatus struct {
	ID               PlayerID  `json:"id"`
	MessagesSent     uint64    `json:"messagesSent"`
	MessagesReceived uint64    `json:"messagesReceived"`
	LastActivity     time.Time `json:"lastActivity"`
}
