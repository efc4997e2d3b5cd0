// ABOUTME: Engine wires the socket, reconciler, store, rooms, unread, and resolver together.
// ABOUTME: Owns the event loop, stale-fetch discard, periodic refresh, and teardown.

package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voltdesk/chatsync/internal/chat"
	"github.com/voltdesk/chatsync/internal/resolver"
	"github.com/voltdesk/chatsync/internal/rest"
	"github.com/voltdesk/chatsync/internal/rooms"
	"github.com/voltdesk/chatsync/internal/socket"
	"github.com/voltdesk/chatsync/internal/store"
	"github.com/voltdesk/chatsync/internal/timeline"
	"github.com/voltdesk/chatsync/internal/unread"
	"github.com/voltdesk/chatsync/internal/wire"
)

// API is what the engine needs from the REST layer. Implemented by rest.Client.
type API interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, limit int) ([]chat.Message, error)
	StartConversation(ctx context.Context, bookingID, initialMessage string) (rest.StartResult, error)
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context) (int, error)
}

// Connection is what the engine needs from the socket layer.
// Implemented by socket.Manager.
type Connection interface {
	Open(ctx context.Context, token string) error
	Send(data []byte) error
	Events() <-chan socket.Event
	Snapshot() socket.Snapshot
	Shutdown()
}

// Options tunes the engine.
type Options struct {
	CurrentUserID     string
	PageSize          int
	PendingBufferSize int
	PendingBufferTTL  time.Duration
	RefreshInterval   time.Duration
}

// Engine is the conversation sync core. It consumes the socket event
// stream, funnels both message sources through the reconciler, keeps
// unread counts current, and exposes the user-action entry points: open a
// conversation, send a message, start a conversation from a booking, mark
// read.
type Engine struct {
	api    API
	conn   Connection
	store  *store.Store
	rooms  *rooms.Manager
	rec    *timeline.Reconciler
	unread *unread.Tracker
	res    *resolver.Resolver
	logger *slog.Logger
	opts   Options

	// fetchGen invalidates in-flight history fetches when the active
	// conversation changes; a response from an older generation is stale
	// and must not be applied.
	fetchGen atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles an engine around the given REST API and connection.
// Pass nil logger for the default.
func New(api API, conn Connection, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize == 0 {
		opts.PageSize = 50
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.PendingBufferTTL == 0 {
		opts.PendingBufferTTL = 30 * time.Second
	}

	e := &Engine{
		api:    api,
		conn:   conn,
		store:  store.New(logger),
		unread: unread.NewTracker(opts.CurrentUserID, logger),
		logger: logger.With("component", "engine"),
		opts:   opts,
	}
	e.rooms = rooms.NewManager(conn, logger)
	e.rec = timeline.NewReconciler(e.store, e.ensureConversation, timeline.Options{
		PendingBufferSize: opts.PendingBufferSize,
		PendingBufferTTL:  opts.PendingBufferTTL,
	}, logger)
	e.res = resolver.New(api, e.store, logger)

	// Only the active conversation is subscribed live; everything else
	// relies on the periodic REST refresh.
	e.store.OnActiveChange(func(activeID string) {
		if activeID == "" {
			e.rooms.SetDesiredRooms()
		} else {
			e.rooms.SetDesiredRooms(activeID)
		}
	})

	return e
}

// Start brings the engine up: opens the live connection (degrading to
// REST-only when that fails), primes the conversation list, and starts the
// event and maintenance loops. Safe to call once per engine.
func (e *Engine) Start(ctx context.Context, token string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	if err := e.conn.Open(ctx, token); err != nil {
		// REST-only mode: passive sync failures are non-fatal and
		// self-heal on the next successful Reconnect call.
		e.logger.Warn("live connection unavailable, running REST-only", "error", err)
	}

	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("initial conversation refresh failed", "error", err)
	}

	e.wg.Add(2)
	go e.eventLoop(loopCtx)
	go e.maintenanceLoop(loopCtx)
	return nil
}

// Reconnect re-attempts the live connection, e.g. after the UI observed a
// disconnected state for a while. Idempotent when already connected.
func (e *Engine) Reconnect(ctx context.Context, token string) error {
	return e.conn.Open(ctx, token)
}

// Close tears the engine down deterministically: the connection is closed,
// loops drain and exit, and no timer fires afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.conn.Shutdown()
	e.wg.Wait()
	e.rec.Reset()
}

// Logout closes the engine and evicts all cached session state.
func (e *Engine) Logout() {
	e.Close()
	e.store.Reset()
	e.unread.Reset()
	e.res.Reset()
	e.logger.Info("session state evicted")
}

// eventLoop consumes the socket event stream until shutdown.
func (e *Engine) eventLoop(ctx context.Context) {
	defer e.wg.Done()

	events := e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleSocketEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleSocketEvent(ctx context.Context, ev socket.Event) {
	switch ev.Kind {
	case socket.EventConnected:
		// Server-side room membership died with the old transport.
		e.rooms.HandleConnected()

	case socket.EventDisconnected:
		e.rooms.HandleDisconnected()
		if ev.Err != nil {
			e.logger.Warn("live connection lost", "error", ev.Err)
		}

	case socket.EventMessage:
		switch m := ev.Message.(type) {
		case wire.NewMessage:
			e.ingestPush(m.Message)
		}
	}
}

// ingestPush runs a live message through the reconciler and accounts the
// result. Failures here are passive-sync failures: logged, never surfaced.
func (e *Engine) ingestPush(msg chat.Message) {
	fresh, err := e.rec.IngestLivePush(msg)
	if err != nil {
		e.logger.Warn("live push rejected", "conversation_id", msg.ConversationID, "error", err)
		return
	}
	e.account(msg.ConversationID, fresh)
}

// account feeds freshly merged messages into the unread tracker and
// mirrors the derived count onto the conversation summary.
func (e *Engine) account(conversationID string, fresh []chat.Message) {
	if len(fresh) == 0 {
		return
	}
	e.unread.Observe(conversationID, fresh)
	e.store.SetUnread(conversationID, e.unread.Count(conversationID))
}

// maintenanceLoop drives periodic REST refresh and pending-buffer expiry.
func (e *Engine) maintenanceLoop(ctx context.Context) {
	defer e.wg.Done()

	refresh := time.NewTicker(e.opts.RefreshInterval)
	defer refresh.Stop()
	expire := time.NewTicker(e.opts.PendingBufferTTL)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := e.Refresh(ctx); err != nil {
				e.logger.Warn("periodic refresh failed", "error", err)
			}
		case <-expire.C:
			e.rec.ExpirePending()
		}
	}
}

// Refresh pulls the conversation list and reconciles summaries into the
// store. This is also the self-heal path for anything a dropped push or
// failed fetch left behind.
func (e *Engine) Refresh(ctx context.Context) error {
	convs, err := e.api.ListConversations(ctx)
	if err != nil {
		return err
	}

	e.store.UpsertConversations(convs)
	for _, c := range convs {
		if !c.LastReadAt.IsZero() {
			e.unread.SetLastRead(c.ID, c.LastReadAt)
		}
		if tl := e.store.Timeline(c.ID); len(tl) > 0 {
			n := e.unread.Recompute(c.ID, tl)
			e.store.SetUnread(c.ID, n)
		} else if c.Unread > 0 {
			// No local timeline yet: trust the server's summary count
			// until one loads.
			e.store.SetUnread(c.ID, c.Unread)
		}
	}
	return nil
}

// OpenConversation makes a conversation active: it becomes the only live
// room subscription and its first history page is fetched. Switching away
// before the fetch lands invalidates the response instead of applying it.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	e.store.SetActiveConversation(conversationID)
	if conversationID == "" {
		return nil
	}

	gen := e.fetchGen.Add(1)
	return e.fetchHistoryPage(ctx, conversationID, 1, gen)
}

// FetchOlderMessages loads the given history page for the active
// conversation, for scroll-back pagination. Overlapping pages merge
// cleanly thanks to id dedup.
func (e *Engine) FetchOlderMessages(ctx context.Context, conversationID string, page int) error {
	return e.fetchHistoryPage(ctx, conversationID, page, e.fetchGen.Load())
}

func (e *Engine) fetchHistoryPage(ctx context.Context, conversationID string, page int, gen int64) error {
	msgs, err := e.api.Messages(ctx, conversationID, page, e.opts.PageSize)
	if err != nil {
		return err
	}

	// The active conversation may have moved while the fetch was in
	// flight; applying the response now would bleed one conversation's
	// page into another session's view of the world.
	if e.fetchGen.Load() != gen {
		e.logger.Debug("stale history fetch discarded",
			"conversation_id", conversationID,
			"page", page)
		return nil
	}

	fresh, err := e.rec.IngestHistoryPage(conversationID, msgs)
	if err != nil {
		return err
	}
	e.account(conversationID, fresh)
	return nil
}

// SendMessage appends an optimistic pending message, posts it, and
// reconciles the server's accepted copy back into the timeline. On failure
// the local message flips to failed and the error is returned for the UI
// to surface.
func (e *Engine) SendMessage(ctx context.Context, conversationID, body string) (chat.Message, error) {
	local := chat.Message{
		ID:             "local-" + uuid.New().String(),
		ConversationID: conversationID,
		Sender:         chat.Participant{UserID: e.opts.CurrentUserID},
		Body:           body,
		SentAt:         time.Now(),
		Delivery:       chat.DeliveryPending,
	}
	if _, err := e.store.AppendMessages(conversationID, []chat.Message{local}); err != nil {
		return chat.Message{}, err
	}

	sent, err := e.api.SendMessage(ctx, conversationID, body)
	if err != nil {
		e.store.MarkSendFailed(conversationID, local.ID)
		return chat.Message{}, err
	}

	if err := e.store.ResolvePending(conversationID, local.ID, sent); err != nil {
		return chat.Message{}, err
	}
	return sent, nil
}

// StartConversation resolves (creating if needed) the conversation for a
// booking and makes it active. Safe under rapid double-clicks.
func (e *Engine) StartConversation(ctx context.Context, bookingID, initialMessage string) (resolver.Result, error) {
	res, err := e.res.EnsureConversation(ctx, bookingID, initialMessage)
	if err != nil {
		return resolver.Result{}, err
	}
	if err := e.OpenConversation(ctx, res.ConversationID); err != nil {
		// The conversation exists; a failed first page fetch is not fatal.
		e.logger.Warn("history fetch after start failed",
			"conversation_id", res.ConversationID, "error", err)
	}
	return res, nil
}

// MarkRead advances the local read marker, zeroes the unread count, and
// acknowledges to the server. A failed ack is logged and left for the next
// refresh to repair; local state is already correct.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) {
	marker := e.unread.MarkRead(conversationID)
	e.store.SetLastRead(conversationID, marker)

	if err := e.api.MarkRead(ctx, conversationID); err != nil {
		e.logger.Warn("read ack failed", "conversation_id", conversationID, "error", err)
	}
}

// ensureConversation is the reconciler's escape hatch for a push whose
// conversation the client has never seen: refresh the list in the
// background and flush the buffer once the conversation resolves.
func (e *Engine) ensureConversation(conversationID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.Refresh(ctx); err != nil {
			e.logger.Warn("ensure-conversation refresh failed",
				"conversation_id", conversationID, "error", err)
			return
		}
		if _, ok := e.store.Conversation(conversationID); !ok {
			// Not ours, or not visible yet; buffered messages expire on
			// their own.
			e.logger.Warn("conversation still unknown after refresh",
				"conversation_id", conversationID)
			return
		}

		fresh, err := e.rec.ConversationResolved(conversationID)
		if err != nil {
			e.logger.Warn("buffer flush failed", "conversation_id", conversationID, "error", err)
			return
		}
		e.account(conversationID, fresh)
	}()
}

// Conversations returns the cached conversation list, most recent first.
func (e *Engine) Conversations() []chat.Conversation {
	return e.store.Conversations()
}

// Timeline returns the ordered message timeline for a conversation.
func (e *Engine) Timeline(conversationID string) []chat.Message {
	return e.store.Timeline(conversationID)
}

// ActiveConversation returns the active conversation id, or "".
func (e *Engine) ActiveConversation() string {
	return e.store.ActiveConversation()
}

// UnreadCount returns the derived unread count for one conversation.
func (e *Engine) UnreadCount(conversationID string) int {
	return e.unread.Count(conversationID)
}

// UnreadTotal returns the global unread badge value.
func (e *Engine) UnreadTotal() int {
	return e.unread.Total()
}

// SyncUnreadBadge asks the server for its global unread count, for
// cross-device agreement at session start.
func (e *Engine) SyncUnreadBadge(ctx context.Context) (int, error) {
	return e.api.UnreadCount(ctx)
}

// ConnectionState reports the live connection state for status indicators.
func (e *Engine) ConnectionState() socket.Snapshot {
	return e.conn.Snapshot()
}

// JoinedRooms reports the rooms joined on the current transport session.
func (e *Engine) JoinedRooms() []string {
	return e.rooms.JoinedRooms()
}
