// ABOUTME: Canonical in-memory state for the sync core: conversations,
// ABOUTME: timelines, and the active-conversation pointer, behind one writer.

package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voltdesk/chatsync/internal/chat"
)

// ActiveListener is notified whenever the active conversation changes.
// The engine wires this to the room subscription manager's desired set.
type ActiveListener func(activeID string)

// Store owns every conversation and message instance the client holds.
// All mutation goes through its typed API under one lock, so readers never
// observe a half-applied merge. Other components keep only ids.
type Store struct {
	logger *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*chat.Conversation
	timelines     map[string][]chat.Message
	activeID      string
	onActive      ActiveListener
}

// New creates an empty store. Pass nil logger for the default.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:        logger.With("component", "store"),
		conversations: make(map[string]*chat.Conversation),
		timelines:     make(map[string][]chat.Message),
	}
}

// OnActiveChange registers the listener for active-conversation changes.
// Must be called during wiring, before concurrent use.
func (s *Store) OnActiveChange(fn ActiveListener) {
	s.onActive = fn
}

// UpsertConversation inserts or refreshes a conversation summary. Local
// read state survives the refresh: a server summary with a zero LastReadAt
// does not clobber the marker the user already advanced.
func (s *Store) UpsertConversation(conv chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(conv)
}

// UpsertConversations applies a whole summary page, e.g. a periodic refresh.
func (s *Store) UpsertConversations(convs []chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		s.upsertLocked(c)
	}
}

func (s *Store) upsertLocked(conv chat.Conversation) {
	existing, ok := s.conversations[conv.ID]
	if !ok {
		c := conv
		s.conversations[conv.ID] = &c
		s.logger.Debug("conversation added", "conversation_id", conv.ID, "booking_id", conv.BookingID)
		return
	}

	if conv.LastReadAt.IsZero() {
		conv.LastReadAt = existing.LastReadAt
	}
	if conv.LastMessage == nil {
		conv.LastMessage = existing.LastMessage
	}
	if conv.LastActivity.Before(existing.LastActivity) {
		conv.LastActivity = existing.LastActivity
	}
	*existing = conv
}

// Conversation returns a copy of the conversation, if known.
func (s *Store) Conversation(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return *c, true
}

// ConversationByBooking returns the conversation tied to a booking, if any.
func (s *Store) ConversationByBooking(bookingID string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conversations {
		if c.BookingID == bookingID {
			return *c, true
		}
	}
	return chat.Conversation{}, false
}

// Conversations returns all conversations, most recently active first.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AppendMessages merges messages into a conversation's timeline and returns
// the messages that were actually new, in timeline order. The conversation
// must already exist; unknown conversations are the reconciler's problem,
// not the store's.
func (s *Store) AppendMessages(conversationID string, msgs []chat.Message) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("append to conversation %s: %w", conversationID, chat.ErrNotFound)
	}

	before := s.timelines[conversationID]
	known := make(map[string]struct{}, len(before))
	for i := range before {
		known[before[i].ID] = struct{}{}
	}

	merged, added := chat.MergeTimeline(before, msgs)
	if added == 0 {
		return nil, nil
	}
	s.timelines[conversationID] = merged

	fresh := make([]chat.Message, 0, added)
	for i := range merged {
		if _, old := known[merged[i].ID]; !old {
			fresh = append(fresh, merged[i])
		}
	}

	last := merged[len(merged)-1]
	if last.SentAt.After(conv.LastActivity) {
		conv.LastActivity = last.SentAt
	}
	lastCopy := last
	conv.LastMessage = &lastCopy

	return fresh, nil
}

// Timeline returns a copy of the conversation's ordered message timeline.
func (s *Store) Timeline(conversationID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl := s.timelines[conversationID]
	out := make([]chat.Message, len(tl))
	copy(out, tl)
	return out
}

// ResolvePending replaces an optimistic local message with the server's
// accepted copy. If the local id is unknown (e.g. already replaced), the
// server copy is merged anyway.
func (s *Store) ResolvePending(conversationID, localID string, final chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return fmt.Errorf("resolve pending in conversation %s: %w", conversationID, chat.ErrNotFound)
	}

	tl := s.timelines[conversationID]
	kept := tl[:0]
	for i := range tl {
		if tl[i].ID != localID {
			kept = append(kept, tl[i])
		}
	}
	merged, _ := chat.MergeTimeline(kept, []chat.Message{final})
	s.timelines[conversationID] = merged

	if conv := s.conversations[conversationID]; conv.LastMessage != nil && conv.LastMessage.ID == localID {
		finalCopy := final
		conv.LastMessage = &finalCopy
		if final.SentAt.After(conv.LastActivity) {
			conv.LastActivity = final.SentAt
		}
	}
	return nil
}

// MarkSendFailed flips an optimistic local message to the failed state so
// the caller can surface a retry affordance.
func (s *Store) MarkSendFailed(conversationID, localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl := s.timelines[conversationID]
	for i := range tl {
		if tl[i].ID == localID {
			tl[i].Delivery = chat.DeliveryFailed
			return
		}
	}
}

// SetLastRead advances a conversation's last-read marker and zeroes its
// cached unread count.
func (s *Store) SetLastRead(conversationID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[conversationID]; ok {
		conv.LastReadAt = at
		conv.Unread = 0
	}
}

// SetUnread mirrors a derived unread count onto the conversation summary.
func (s *Store) SetUnread(conversationID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[conversationID]; ok {
		conv.Unread = n
	}
}

// SetActiveConversation moves the active pointer. Pass "" for none. The
// active listener fires only on an actual change, with only the active
// conversation subscribed live; others rely on periodic REST refresh.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	if s.activeID == id {
		s.mu.Unlock()
		return
	}
	s.activeID = id
	fn := s.onActive
	s.mu.Unlock()

	if fn != nil {
		fn(id)
	}
}

// ActiveConversation returns the currently active conversation id, or "".
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Reset evicts all cached state. Called on logout; conversations are never
// deleted individually client-side.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make(map[string]*chat.Conversation)
	s.timelines = make(map[string][]chat.Message)
	s.activeID = ""
	s.logger.Debug("store reset")
}
