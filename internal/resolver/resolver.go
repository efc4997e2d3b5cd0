// ABOUTME: Maps booking ids to conversations, creating one on first contact.
// ABOUTME: Concurrent callers for the same booking share a single in-flight creation.

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/voltdesk/chatsync/internal/chat"
	"github.com/voltdesk/chatsync/internal/rest"
)

// Creator issues the start-conversation call. Implemented by rest.Client.
type Creator interface {
	StartConversation(ctx context.Context, bookingID, initialMessage string) (rest.StartResult, error)
}

// Store is what the resolver needs from the conversation store.
type Store interface {
	ConversationByBooking(bookingID string) (chat.Conversation, bool)
	UpsertConversation(conv chat.Conversation)
}

// Result of resolving a booking to a conversation. IsNew comes from the
// server, which is the final authority on new vs existing.
type Result struct {
	ConversationID string
	IsNew          bool
}

// Resolver resolves bookings to conversations idempotently. Per booking the
// state moves unknown → resolving → resolved; resolving holds one shared
// in-flight request (rapid double-clicks coalesce onto it) and resolved is
// terminal for the session.
type Resolver struct {
	api    Creator
	store  Store
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.Mutex
	resolved map[string]string // bookingID -> conversationID
}

// New creates a resolver. Pass nil logger for the default.
func New(api Creator, store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		api:      api,
		store:    store,
		logger:   logger.With("component", "resolver"),
		resolved: make(map[string]string),
	}
}

// EnsureConversation returns the conversation for a booking, creating one
// on first contact. Safe to call repeatedly and concurrently: a known
// mapping short-circuits without a network call, and concurrent unresolved
// callers await the same creation request rather than issuing duplicates.
func (r *Resolver) EnsureConversation(ctx context.Context, bookingID, initialMessage string) (Result, error) {
	if bookingID == "" {
		return Result{}, fmt.Errorf("ensure conversation: booking id is empty")
	}

	if id, ok := r.lookup(bookingID); ok {
		return Result{ConversationID: id}, nil
	}

	v, err, shared := r.group.Do(bookingID, func() (any, error) {
		// Re-check under the flight: a refresh may have landed the mapping
		// while we queued.
		if id, ok := r.lookup(bookingID); ok {
			return Result{ConversationID: id}, nil
		}

		res, err := r.api.StartConversation(ctx, bookingID, initialMessage)
		if err != nil {
			return Result{}, err
		}

		// The server decides whether this was a creation; adopt its answer
		// even if we guessed differently.
		r.store.UpsertConversation(chat.Conversation{
			ID:        res.ConversationID,
			BookingID: bookingID,
		})
		r.remember(bookingID, res.ConversationID)

		r.logger.Debug("booking resolved",
			"booking_id", bookingID,
			"conversation_id", res.ConversationID,
			"is_new", res.IsNew)
		return Result{ConversationID: res.ConversationID, IsNew: res.IsNew}, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ensure conversation for booking %s: %w", bookingID, err)
	}
	if shared {
		r.logger.Debug("creation coalesced", "booking_id", bookingID)
	}
	return v.(Result), nil
}

// Reset forgets all resolved mappings. Called on logout.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = make(map[string]string)
}

// lookup checks the session cache first, then the store (a mapping may have
// arrived via conversation-list refresh).
func (r *Resolver) lookup(bookingID string) (string, bool) {
	r.mu.Lock()
	id, ok := r.resolved[bookingID]
	r.mu.Unlock()
	if ok {
		return id, true
	}

	if conv, ok := r.store.ConversationByBooking(bookingID); ok {
		r.remember(bookingID, conv.ID)
		return conv.ID, true
	}
	return "", false
}

func (r *Resolver) remember(bookingID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[bookingID] = conversationID
}
