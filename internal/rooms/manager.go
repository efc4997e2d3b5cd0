// ABOUTME: Tracks which conversation rooms the client wants live and keeps
// ABOUTME: the server-side membership in sync across reconnects.

package rooms

import (
	"log/slog"
	"sync"

	"github.com/voltdesk/chatsync/internal/wire"
)

// Sender transmits an encoded frame over the live connection.
// Implemented by socket.Manager.
type Sender interface {
	Send(data []byte) error
}

// Manager reconciles the desired room set against the joined set, emitting
// join intents for additions and leave intents for removals. Server-side
// membership does not survive a transport reset, so every reconnect starts
// from an empty joined set and re-issues joins for everything desired.
//
// Invariant: joined is always a subset of desired, and at most one join is
// outstanding per room id, so rapid open/close of the same conversation
// cannot produce a join storm.
type Manager struct {
	sender Sender
	logger *slog.Logger

	mu      sync.Mutex
	desired map[string]struct{}
	joined  map[string]struct{}
}

// NewManager creates a subscription manager. Pass nil logger for the default.
func NewManager(sender Sender, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sender:  sender,
		logger:  logger.With("component", "rooms"),
		desired: make(map[string]struct{}),
		joined:  make(map[string]struct{}),
	}
}

// SetDesiredRooms declares the rooms the client wants active. The symmetric
// difference against the joined set becomes join and leave intents; rooms
// already joined are left untouched.
func (m *Manager) SetDesiredRooms(roomIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	m.desired = next

	for id := range m.joined {
		if _, want := next[id]; !want {
			m.leaveLocked(id)
		}
	}
	for id := range next {
		if _, have := m.joined[id]; !have {
			m.joinLocked(id)
		}
	}
}

// HandleConnected must be called when the connection transitions to
// connected. Membership was lost with the old transport, so the joined set
// is rebuilt from scratch.
func (m *Manager) HandleConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.joined = make(map[string]struct{})
	for id := range m.desired {
		m.joinLocked(id)
	}
}

// HandleDisconnected must be called when the connection drops. The joined
// set is cleared; desired rooms are kept for the next reconnect.
func (m *Manager) HandleDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = make(map[string]struct{})
}

// JoinedRooms returns the rooms a join has been issued for on the current
// transport session.
func (m *Manager) JoinedRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.joined))
	for id := range m.joined {
		out = append(out, id)
	}
	return out
}

// joinLocked issues a join intent and marks the room joined on success.
// A failed send leaves the room unjoined so the next reconnect retries it.
func (m *Manager) joinLocked(roomID string) {
	frame, err := wire.EncodeJoin(roomID)
	if err != nil {
		m.logger.Error("encoding join", "room", roomID, "error", err)
		return
	}
	if err := m.sender.Send(frame); err != nil {
		m.logger.Debug("join deferred until reconnect", "room", roomID, "error", err)
		return
	}
	m.joined[roomID] = struct{}{}
	m.logger.Debug("joined room", "room", roomID)
}

// leaveLocked issues a leave intent and unmarks the room regardless of send
// outcome: a dead transport has already forgotten the membership.
func (m *Manager) leaveLocked(roomID string) {
	delete(m.joined, roomID)

	frame, err := wire.EncodeLeave(roomID)
	if err != nil {
		m.logger.Error("encoding leave", "room", roomID, "error", err)
		return
	}
	if err := m.sender.Send(frame); err != nil {
		m.logger.Debug("leave skipped, not connected", "room", roomID)
		return
	}
	m.logger.Debug("left room", "room", roomID)
}
