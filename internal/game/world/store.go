package world

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/protocol"
)

// Store tracks every registered player, the bidirectional connection index,
// and the derived world snapshot. All methods are safe for concurrent use;
// the snapshot's key set always equals the player map's key set.
type Store struct {
	mu            sync.Mutex
	logger        *zap.Logger
	announceDelay time.Duration

	players  map[PlayerID]*Player
	byConn   map[string]PlayerID
	snapshot map[PlayerID]protocol.PlayerSnapshot
}

// NewStore creates an empty Store. Join/leave announcements fire announceDelay
// after the triggering registration change.
//
// Precondition: logger must be non-nil; announceDelay must not be negative.
func NewStore(announceDelay time.Duration, logger *zap.Logger) *Store {
	return &Store{
		logger:        logger,
		announceDelay: announceDelay,
		players:       make(map[PlayerID]*Player),
		byConn:        make(map[string]PlayerID),
		snapshot:      make(map[PlayerID]protocol.PlayerSnapshot),
	}
}

// Register creates a player with the default transform for the given identity
// and inserts it into the registry and snapshot. If the identity already has a
// live entry — a client that reconnected before the server noticed the old
// connection die — the old entry is evicted first and its connection closed
// with a "reconnecting" reason. A deferred player_joined announcement is
// scheduled for everyone else; it no-ops if the registration it describes is
// gone by the time it fires.
//
// Postcondition: The registry, player map, and snapshot agree on the key set.
func (s *Store) Register(conn Conn, id PlayerID) {
	now := time.Now()

	s.mu.Lock()
	var evicted Conn
	if old, ok := s.players[id]; ok {
		evicted = old.Conn
		if evicted != nil {
			delete(s.byConn, evicted.ID())
		}
		delete(s.players, id)
		delete(s.snapshot, id)
	}

	p := &Player{
		ID:           id,
		Conn:         conn,
		Animation:    DefaultAnimation,
		Color:        ColorForIndex(playerIndex(id)),
		LastActivity: now,
	}
	s.players[id] = p
	s.byConn[conn.ID()] = id
	s.snapshot[id] = p.view()
	total := len(s.players)
	s.mu.Unlock()

	if evicted != nil {
		evicted.Close("reconnecting")
		s.logger.Info("evicted stale entry for reconnecting player",
			zap.String("player", string(id)),
		)
	}

	s.logger.Info("player registered",
		zap.String("player", string(id)),
		zap.String("conn", conn.ID()),
		zap.Int("total", total),
	)

	connID := conn.ID()
	time.AfterFunc(s.announceDelay, func() {
		s.announceJoined(id, connID)
	})
}

// Deregister removes the identity from the registry, player map, and snapshot,
// closes its connection if still open, and schedules a deferred player_left
// announcement to the remaining players. Removing an absent identity is a no-op.
func (s *Store) Deregister(id PlayerID) {
	s.mu.Lock()
	p, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.players, id)
	delete(s.snapshot, id)
	if p.Conn != nil {
		delete(s.byConn, p.Conn.ID())
	}
	conn := p.Conn
	total := len(s.players)
	s.mu.Unlock()

	if conn != nil && conn.IsOpen() {
		conn.Close("disconnected")
	}

	s.logger.Info("player deregistered",
		zap.String("player", string(id)),
		zap.Int("total", total),
	)

	time.AfterFunc(s.announceDelay, func() {
		s.announceLeft(id)
	})
}

// DeregisterByConn removes whichever player the connection handle is bound to.
//
// Postcondition: Returns the removed identity, or ("", false) if the handle
// was not bound.
func (s *Store) DeregisterByConn(connID string) (PlayerID, bool) {
	s.mu.Lock()
	id, ok := s.byConn[connID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	s.Deregister(id)
	return id, true
}

// UpdateTransform applies a validated transform update and refreshes the
// player's activity timestamp. Unknown identities are ignored. An empty
// animation keeps the current label.
func (s *Store) UpdateTransform(id PlayerID, position, rotation protocol.Vector3, animation string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return
	}
	p.Position = position
	p.Rotation = rotation
	if animation != "" {
		p.Animation = animation
	}
	p.LastActivity = time.Now()
	s.snapshot[id] = p.view()
}

// Touch refreshes the player's activity timestamp without mutating the
// transform. Used for pings, heartbeats, and any other inbound traffic.
func (s *Store) Touch(id PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.LastActivity = time.Now()
	}
}

// NoteReceived increments the player's received-message counter.
func (s *Store) NoteReceived(id PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.MessagesReceived++
	}
}

// Contains reports whether the identity is currently registered.
func (s *Store) Contains(id PlayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[id]
	return ok
}

// IDForConn resolves a connection handle to its bound identity.
func (s *Store) IDForConn(connID string) (PlayerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byConn[connID]
	return id, ok
}

// Count returns the number of registered players.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// Snapshot returns a copy of the world snapshot keyed by identity string,
// ready to embed in a game_state message.
func (s *Store) Snapshot() map[string]protocol.PlayerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]protocol.PlayerSnapshot, len(s.snapshot))
	for id, view := range s.snapshot {
		out[string(id)] = view
	}
	return out
}

// InactiveIDs collects the identities whose last activity is older than
// timeout as of now. The caller deregisters them afterwards; collecting first
// avoids mutating the store while sweeping it.
func (s *Store) InactiveIDs(now time.Time, timeout time.Duration) []PlayerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []PlayerID
	for id, p := range s.players {
		if now.Sub(p.LastActivity) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

// ClosedConnIDs collects the identities whose connections already report
// closed, so the tick can remove them before building the snapshot.
func (s *Store) ClosedConnIDs() []PlayerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []PlayerID
	for id, p := range s.players {
		if p.Conn == nil || !p.Conn.IsOpen() {
			closed = append(closed, id)
		}
	}
	return closed
}

// Statuses returns the diagnostic view of every registered player.
func (s *Store) Statuses() []PlayerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayerStatus, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, PlayerStatus{
			ID:               p.ID,
			MessagesSent:     p.MessagesSent,
			MessagesReceived: p.MessagesReceived,
			LastActivity:     p.LastActivity,
		})
	}
	return out
}

// SendTo delivers a frame to a single player and records the sent counter.
//
// Postcondition: Returns a non-nil error if the identity is unknown or the
// send failed; the caller converts failures into deregistration.
func (s *Store) SendTo(id PlayerID, data []byte) error {
	s.mu.Lock()
	p, ok := s.players[id]
	var conn Conn
	if ok {
		conn = p.Conn
	}
	s.mu.Unlock()
	if !ok || conn == nil {
		return errUnknownPlayer(id)
	}
	if err := conn.Send(data); err != nil {
		return err
	}
	s.noteSent(id)
	return nil
}

// Broadcast delivers a frame to every registered player and returns the
// identities whose send failed. Sends never block; failures are reported, not
// retried, so one slow client cannot stall the tick.
func (s *Store) Broadcast(data []byte) []PlayerID {
	targets := s.targets()
	var failed []PlayerID
	for _, t := range targets {
		if t.conn == nil || !t.conn.IsOpen() {
			failed = append(failed, t.id)
			continue
		}
		if err := t.conn.Send(data); err != nil {
			s.logger.Debug("broadcast send failed",
				zap.String("player", string(t.id)),
				zap.Error(err),
			)
			failed = append(failed, t.id)
			continue
		}
		s.noteSent(t.id)
	}
	return failed
}

type target struct {
	id   PlayerID
	conn Conn
}

func errUnknownPlayer(id PlayerID) error {
	return fmt.Errorf("player %q not registered", id)
}

func (s *Store) targets() []target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]target, 0, len(s.players))
	for id, p := range s.players {
		out = append(out, target{id: id, conn: p.Conn})
	}
	return out
}

func (s *Store) noteSent(id PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		p.MessagesSent++
	}
}

// announceJoined broadcasts a player_joined to everyone except the subject.
// It no-ops when the registration it was scheduled for is no longer current,
// either because the player left or because a rapid reconnect replaced it.
func (s *Store) announceJoined(id PlayerID, connID string) {
	s.mu.Lock()
	p, ok := s.players[id]
	if !ok || p.Conn == nil || p.Conn.ID() != connID {
		s.mu.Unlock()
		return
	}
	msg := protocol.PlayerJoined{
		Type:         protocol.TypePlayerJoined,
		PlayerID:     string(id),
		PlayerData:   s.snapshot[id],
		TotalPlayers: len(s.players),
		Timestamp:    time.Now().UnixMilli(),
	}
	targets := make([]target, 0, len(s.players)-1)
	for otherID, other := range s.players {
		if otherID == id {
			continue
		}
		targets = append(targets, target{id: otherID, conn: other.Conn})
	}
	s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshalling player_joined", zap.Error(err))
		return
	}
	s.deliver(targets, data)
}

// announceLeft broadcasts a player_left to the remaining players. It no-ops
// if the identity re-registered before the announcement fired.
func (s *Store) announceLeft(id PlayerID) {
	s.mu.Lock()
	if _, ok := s.players[id]; ok {
		s.mu.Unlock()
		return
	}
	msg := protocol.PlayerLeft{
		Type:         protocol.TypePlayerLeft,
		PlayerID:     string(id),
		TotalPlayers: len(s.players),
		Timestamp:    time.Now().UnixMilli(),
	}
	targets := make([]target, 0, len(s.players))
	for otherID, other := range s.players {
		targets = append(targets, target{id: otherID, conn: other.Conn})
	}
	s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshalling player_left", zap.Error(err))
		return
	}
	s.deliver(targets, data)
}

// deliver sends an announcement to the given targets. Failures are logged
// only; the tick loop's broadcast converges dead connections to removal.
func (s *Store) deliver(targets []target, data []byte) {
	for _, t := range targets {
		if t.conn == nil {
			continue
		}
		if err := t.conn.Send(data); err != nil {
			s.logger.Debug("announcement send failed",
				zap.String("player", string(t.id)),
				zap.Error(err),
			)
			continue
		}
		s.noteSent(t.id)
	}
}
