// Package protocol defines the JSON wire messages exchanged between the relay
// server and its clients. Every message carries a "type" discriminator; the
// full set of types forms a closed tagged union that the engine dispatches on.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the wire-level discriminator for all messages.
type MessageType string

// Client-to-server message types.
const (
	TypePositionUpdate MessageType = "position_update"
	TypePing           MessageType = "ping"
	TypeHeartbeat      MessageType = "heartbeat"
	TypeSystemInfo     MessageType = "system_info"
	TypeDisconnect     MessageType = "disconnect"
)

// Server-to-client message types.
const (
	TypeWelcome            MessageType = "welcome"
	TypePlayerConnected    MessageType = "player_connected"
	TypePlayerJoined       MessageType = "player_joined"
	TypePlayerLeft         MessageType = "player_left"
	TypeGameState          MessageType = "game_state"
	TypePong               MessageType = "pong"
	TypeHeartbeatResponse  MessageType = "heartbeat_response"
	TypeSystemInfoReceived MessageType = "system_info_received"
)

// Vector3 is a three-component vector used for positions and rotations.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ClientEnvelope is the decoded form of an inbound client frame. Position and
// Rotation are kept raw so the dispatcher can reject non-object payloads
// instead of silently defaulting them into the snapshot.
type ClientEnvelope struct {
	Type      MessageType     `json:"type"`
	Position  json.RawMessage `json:"position,omitempty"`
	Rotation  json.RawMessage `json:"rotation,omitempty"`
	Animation string          `json:"animation,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Platform  string          `json:"platform,omitempty"`
	Runtime   string          `json:"runtime,omitempty"`
	Network   string          `json:"network,omitempty"`
}

// Decode parses a raw client frame into an envelope.
//
// Postcondition: Returns an envelope with a non-empty Type, or a non-nil error.
func Decode(data []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientEnvelope{}, fmt.Errorf("decoding client message: %w", err)
	}
	if env.Type == "" {
		return ClientEnvelope{}, errors.New("client message missing type")
	}
	return env, nil
}

// DecodeVector converts a raw JSON value into a Vector3. Only JSON objects are
// accepted; primitives, arrays, and null are rejected so a malformed transform
// never overwrites good data with partial zeroes.
func DecodeVector(raw json.RawMessage) (Vector3, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Vector3{}, errors.New("missing vector payload")
	}
	if trimmed[0] != '{' {
		return Vector3{}, fmt.Errorf("vector payload must be a JSON object, got %s", preview(trimmed))
	}
	var v Vector3
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Vector3{}, fmt.Errorf("decoding vector: %w", err)
	}
	return v, nil
}

func preview(data []byte) string {
	const max = 32
	if len(data) > max {
		data = data[:max]
	}
	return string(data)
}

// PlayerSnapshot is the per-player slice of the world snapshot broadcast to
// every client each tick.
type PlayerSnapshot struct {
	Position  Vector3 `json:"position"`
	Rotation  Vector3 `json:"rotation"`
	Animation string  `json:"animation"`
	Color     string  `json:"color"`
}

// GameState is the merged world view embedded in game_state and
// player_connected messages.
type GameState struct {
	Players    map[string]PlayerSnapshot `json:"players"`
	MaxPlayers int                       `json:"maxPlayers"`
	GameTime   float64                   `json:"gameTime"`
}

// Welcome greets a newly accepted connection with its assigned identity.
type Welcome struct {
	Type       MessageType `json:"type"`
	Message    string      `json:"message"`
	PlayerID   string      `json:"playerId"`
	ServerTime int64       `json:"serverTime"`
}

// PlayerConnected confirms registration to the registering player and carries
// the current world state so the client can render immediately.
type PlayerConnected struct {
	Type         MessageType `json:"type"`
	PlayerID     string      `json:"playerId"`
	TotalPlayers int         `json:"totalPlayers"`
	GameState    GameState   `json:"gameState"`
	ServerTime   int64       `json:"serverTime"`
}

// PlayerJoined announces a new player to everyone else.
type PlayerJoined struct {
	Type         MessageType    `json:"type"`
	PlayerID     string         `json:"playerId"`
	PlayerData   PlayerSnapshot `json:"playerData"`
	TotalPlayers int            `json:"totalPlayers"`
	Timestamp    int64          `json:"timestamp"`
}

// PlayerLeft announces a departure to the remaining players.
type PlayerLeft struct {
	Type         MessageType `json:"type"`
	PlayerID     string      `json:"playerId"`
	TotalPlayers int         `json:"totalPlayers"`
	Timestamp    int64       `json:"timestamp"`
}

// GameStateMessage is the per-tick snapshot broadcast.
type GameStateMessage struct {
	Type      MessageType `json:"type"`
	GameState GameState   `json:"gameState"`
	Timestamp int64       `json:"timestamp"`
}

// Pong is the direct reply to a client ping, echoing the client timestamp.
type Pong struct {
	Type       MessageType `json:"type"`
	Timestamp  int64       `json:"timestamp"`
	ServerTime int64       `json:"serverTime"`
}

// HeartbeatResponse acknowledges a client heartbeat.
type HeartbeatResponse struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// SystemInfoReceived acknowledges a diagnostic system_info report.
type SystemInfoReceived struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}
