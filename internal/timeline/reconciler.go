// ABOUTME: Merges REST history pages and live pushes into per-conversation timelines.
// ABOUTME: Buffers pushes for conversations the client does not know yet, bounded and TTL-limited.

package timeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voltdesk/chatsync/internal/chat"
	"github.com/voltdesk/chatsync/internal/dedupe"
)

// Store is what the reconciler needs from the conversation store.
type Store interface {
	AppendMessages(conversationID string, msgs []chat.Message) ([]chat.Message, error)
	Conversation(id string) (chat.Conversation, bool)
}

// EnsureFunc asks for a background fetch of a conversation the client has
// not seen yet. Implementations must not block; the reconciler calls it at
// most once per unknown conversation while messages for it sit buffered.
type EnsureFunc func(conversationID string)

// pendingMessage is a live push waiting for its conversation to resolve.
type pendingMessage struct {
	msg        chat.Message
	bufferedAt time.Time
}

// Reconciler funnels both message sources into one merge path. History
// pages and live pushes end up in the same id-deduplicated, time-ordered
// timeline regardless of arrival order. A push for an unknown conversation
// is buffered rather than dropped; the buffer is bounded per conversation
// and entries expire after a fixed window.
type Reconciler struct {
	store   Store
	seen    *dedupe.Cache
	ensure  EnsureFunc
	logger  *slog.Logger
	bufCap  int
	bufTTL  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string][]pendingMessage
}

// Options tunes the pending buffer and the live-path dedupe window.
type Options struct {
	PendingBufferSize int           // per unknown conversation, default 50
	PendingBufferTTL  time.Duration // default 30s
	DedupeTTL         time.Duration // default 2m
	DedupeSize        int           // default 4096
}

// NewReconciler creates a reconciler writing through the given store.
// Pass nil logger for the default.
func NewReconciler(store Store, ensure EnsureFunc, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PendingBufferSize == 0 {
		opts.PendingBufferSize = 50
	}
	if opts.PendingBufferTTL == 0 {
		opts.PendingBufferTTL = 30 * time.Second
	}
	if opts.DedupeTTL == 0 {
		opts.DedupeTTL = 2 * time.Minute
	}
	if opts.DedupeSize == 0 {
		opts.DedupeSize = 4096
	}
	return &Reconciler{
		store:   store,
		seen:    dedupe.New(opts.DedupeTTL, opts.DedupeSize),
		ensure:  ensure,
		logger:  logger.With("component", "timeline"),
		bufCap:  opts.PendingBufferSize,
		bufTTL:  opts.PendingBufferTTL,
		now:     time.Now,
		pending: make(map[string][]pendingMessage),
	}
}

// IngestHistoryPage merges one REST page into the conversation's timeline.
// Replaying an identical page (pagination overlap, retry) is a no-op.
// Returns the messages that were actually new.
func (r *Reconciler) IngestHistoryPage(conversationID string, msgs []chat.Message) ([]chat.Message, error) {
	fresh, err := r.store.AppendMessages(conversationID, msgs)
	if err != nil {
		return nil, fmt.Errorf("history page: %w", err)
	}
	if len(fresh) > 0 {
		r.logger.Debug("history page merged",
			"conversation_id", conversationID,
			"page_size", len(msgs),
			"new", len(fresh))
	}
	return fresh, nil
}

// IngestLivePush merges a pushed message. If its conversation is not in the
// store yet, the message is buffered and a background ensure fetch is
// requested; the returned slice is empty in that case. A frame replayed
// across a reconnect is dropped by the dedupe cache before any merge.
func (r *Reconciler) IngestLivePush(msg chat.Message) ([]chat.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if r.seen.Seen(dedupe.Key(msg.ConversationID, msg.ID)) {
		r.logger.Debug("duplicate push dropped",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID)
		return nil, nil
	}

	if _, known := r.store.Conversation(msg.ConversationID); !known {
		r.buffer(msg)
		return nil, nil
	}

	fresh, err := r.store.AppendMessages(msg.ConversationID, []chat.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("live push: %w", err)
	}
	return fresh, nil
}

// ConversationResolved flushes buffered messages for a conversation that
// has just landed in the store. Entries past the TTL are discarded.
func (r *Reconciler) ConversationResolved(conversationID string) ([]chat.Message, error) {
	r.mu.Lock()
	buffered := r.pending[conversationID]
	delete(r.pending, conversationID)
	r.mu.Unlock()

	if len(buffered) == 0 {
		return nil, nil
	}

	now := r.now()
	msgs := make([]chat.Message, 0, len(buffered))
	expired := 0
	for _, p := range buffered {
		if now.Sub(p.bufferedAt) > r.bufTTL {
			expired++
			continue
		}
		msgs = append(msgs, p.msg)
	}
	if expired > 0 {
		r.logger.Warn("buffered messages expired before conversation resolved",
			"conversation_id", conversationID,
			"expired", expired)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	fresh, err := r.store.AppendMessages(conversationID, msgs)
	if err != nil {
		return nil, fmt.Errorf("flushing buffer: %w", err)
	}
	r.logger.Debug("pending buffer flushed",
		"conversation_id", conversationID,
		"flushed", len(fresh))
	return fresh, nil
}

// ExpirePending drops buffered messages older than the TTL. The engine
// drives this from its own ticker so teardown never leaves a timer behind.
// Returns the number of messages discarded.
func (r *Reconciler) ExpirePending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	dropped := 0
	for convID, buffered := range r.pending {
		kept := buffered[:0]
		for _, p := range buffered {
			if now.Sub(p.bufferedAt) > r.bufTTL {
				dropped++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(r.pending, convID)
		} else {
			r.pending[convID] = kept
		}
	}
	if dropped > 0 {
		r.logger.Warn("unresolved conversation buffer expired", "dropped", dropped)
	}
	return dropped
}

// PendingCount reports how many messages sit buffered for a conversation.
func (r *Reconciler) PendingCount(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[conversationID])
}

// Reset drops all buffered state. Called on teardown.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string][]pendingMessage)
}

// buffer stores a push for an unknown conversation, keeping only the most
// recent bufCap messages, and requests an ensure fetch on first sight.
func (r *Reconciler) buffer(msg chat.Message) {
	r.mu.Lock()
	buffered, existed := r.pending[msg.ConversationID]
	buffered = append(buffered, pendingMessage{msg: msg, bufferedAt: r.now()})
	if len(buffered) > r.bufCap {
		over := len(buffered) - r.bufCap
		buffered = buffered[over:]
		r.logger.Warn("pending buffer full, dropping oldest",
			"conversation_id", msg.ConversationID,
			"dropped", over)
	}
	r.pending[msg.ConversationID] = buffered
	r.mu.Unlock()

	r.logger.Debug("push buffered for unknown conversation",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID)

	if !existed && r.ensure != nil {
		r.ensure(msg.ConversationID)
	}
}
