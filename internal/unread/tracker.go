// ABOUTME: Derives per-conversation and global unread counts incrementally.
// ABOUTME: markRead is the only operation that clears unread state.

package unread

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voltdesk/chatsync/internal/chat"
)

// Tracker maintains unread counts against per-conversation last-read
// markers. Counts move incrementally as messages are observed, so the
// global badge stays O(1) per incoming message rather than a rescan.
type Tracker struct {
	currentUser string
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	lastRead map[string]time.Time
	counts   map[string]int
	total    int
}

// NewTracker creates a tracker for the given session user. Messages sent by
// that user never count as unread. Pass nil logger for the default.
func NewTracker(currentUserID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		currentUser: currentUserID,
		logger:      logger.With("component", "unread"),
		now:         time.Now,
		lastRead:    make(map[string]time.Time),
		counts:      make(map[string]int),
	}
}

// Observe counts freshly merged messages. Only messages from other
// participants sent strictly after the conversation's last-read marker
// contribute. Messages already in the timeline must not be passed twice;
// the store's merge reports exactly the fresh ones.
func (t *Tracker) Observe(conversationID string, msgs []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	marker := t.lastRead[conversationID]
	for i := range msgs {
		m := &msgs[i]
		if m.Sender.UserID == t.currentUser {
			continue
		}
		if !m.SentAt.After(marker) {
			continue
		}
		t.counts[conversationID]++
		t.total++
	}
}

// Recompute derives a conversation's count from a full timeline, for when
// a conversation is first loaded or a marker arrives from the server.
func (t *Tracker) Recompute(conversationID string, timeline []chat.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	marker := t.lastRead[conversationID]
	n := 0
	for i := range timeline {
		m := &timeline[i]
		if m.Sender.UserID != t.currentUser && m.SentAt.After(marker) {
			n++
		}
	}
	t.setCountLocked(conversationID, n)
	return n
}

// MarkRead advances the last-read marker to now and zeroes the count.
// This is the only legitimate way to clear unread state; merely opening a
// view never clears it as a side effect. Returns the new marker.
func (t *Tracker) MarkRead(conversationID string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	marker := t.now()
	t.lastRead[conversationID] = marker
	t.setCountLocked(conversationID, 0)
	t.logger.Debug("conversation marked read", "conversation_id", conversationID)
	return marker
}

// SetLastRead seeds a marker from a server summary without clearing
// anything: the caller follows with Recompute against the known timeline.
func (t *Tracker) SetLastRead(conversationID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at.After(t.lastRead[conversationID]) {
		t.lastRead[conversationID] = at
	}
}

// Count returns the unread count for a conversation.
func (t *Tracker) Count(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[conversationID]
}

// Total returns the global unread badge value.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Reset drops all markers and counts. Called on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastRead = make(map[string]time.Time)
	t.counts = make(map[string]int)
	t.total = 0
}

func (t *Tracker) setCountLocked(conversationID string, n int) {
	t.total += n - t.counts[conversationID]
	if n == 0 {
		delete(t.counts, conversationID)
		return
	}
	t.counts[conversationID] = n
}
