// ABOUTME: ConnectionManager owning the single live websocket per session.
// ABOUTME: Handles open/reuse/teardown, read/write pumps, and the event stream.

package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/voltdesk/chatsync/internal/auth"
	"github.com/voltdesk/chatsync/internal/wire"
)

// State is the connection lifecycle state observable by callers.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Connection errors. Open reports failures instead of panicking into UI
// paths; callers observe the degraded state and fall back to REST.
var (
	ErrConnectFailed  = errors.New("connection failed")
	ErrNotConnected   = errors.New("not connected")
	ErrOpenThrottled  = errors.New("open throttled")
	ErrManagerClosed  = errors.New("connection manager closed")
	errSendBufferFull = errors.New("send buffer full")
)

const (
	writeWait       = 10 * time.Second
	eventBufferSize = 64
	sendBufferSize  = 16
)

// EventKind tags entries on the manager's event stream.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

// Event is one entry on the manager's event stream. Message is set for
// EventMessage; Err carries the transport error for EventDisconnected (nil
// on explicit Close).
type Event struct {
	Kind    EventKind
	Message wire.ServerEvent
	Err     error
}

// Snapshot is a point-in-time view of the connection.
type Snapshot struct {
	State            State
	TokenFingerprint string
}

// conn bundles one live websocket with its pump lifecycle.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{} // closed once, by whichever pump fails first
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Manager owns the lifecycle of the one persistent connection shared by all
// conversations. Open is idempotent: reinvoking it with the same token while
// connected reuses the live socket; a changed token tears the old one down
// first so no listeners leak and no events get delivered twice.
type Manager struct {
	url              string
	handshakeTimeout time.Duration
	pongWait         time.Duration
	limiter          *rate.Limiter
	logger           *slog.Logger

	mu          sync.Mutex
	state       State
	fingerprint string
	active      *conn
	closed      bool

	events chan Event
}

// Options tunes the manager. Zero values get sensible defaults.
type Options struct {
	HandshakeTimeout time.Duration
	PongWait         time.Duration
	OpensPerMinute   int
}

// NewManager creates a manager for the given socket URL. Pass nil logger for
// the default.
func NewManager(socketURL string, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PongWait == 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.OpensPerMinute == 0 {
		opts.OpensPerMinute = 12
	}
	return &Manager{
		url:              socketURL,
		handshakeTimeout: opts.HandshakeTimeout,
		pongWait:         opts.PongWait,
		limiter:          rate.NewLimiter(rate.Limit(float64(opts.OpensPerMinute)/60.0), opts.OpensPerMinute),
		logger:           logger.With("component", "socket"),
		state:            StateDisconnected,
		events:           make(chan Event, eventBufferSize),
	}
}

// Events returns the manager's event stream. The channel is closed by
// Shutdown. Intended for a single consumer.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Snapshot returns the current connection state and token fingerprint.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, TokenFingerprint: m.fingerprint}
}

// Open establishes the connection if none is live or the token changed.
// A live connection with the same token fingerprint is reused. Failure is
// returned, not thrown: the caller stays in REST-only mode and may call
// Open again later.
func (m *Manager) Open(ctx context.Context, token string) error {
	if err := auth.CheckUsable(token); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	fingerprint := auth.Fingerprint(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.state == StateConnected && m.active != nil && m.fingerprint == fingerprint {
		// Same session, socket alive: nothing to do.
		return nil
	}

	// Token changed or socket dead: tear down fully before dialing so the
	// old pumps cannot deliver into the new session.
	m.teardownLocked(nil)

	if !m.limiter.Allow() {
		return ErrOpenThrottled
	}

	m.state = StateConnecting
	m.fingerprint = fingerprint

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	dialer := &websocket.Dialer{HandshakeTimeout: m.handshakeTimeout}

	ws, resp, err := dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.state = StateDisconnected
		m.logger.Warn("handshake failed", "url", m.url, "error", err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	c := &conn{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	m.active = c
	m.state = StateConnected

	go m.readPump(c)
	go m.writePump(c)

	m.logger.Info("connected", "url", m.url, "token_fingerprint", fingerprint)
	m.emitLocked(Event{Kind: EventConnected})
	return nil
}

// Close tears the connection down deterministically. Safe to call when
// already closed. The manager can be reopened afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(nil)
}

// Shutdown closes the connection and the event stream. The manager cannot
// be reused afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.teardownLocked(nil)
	m.closed = true
	close(m.events)
}

// Send transmits a raw frame over the live connection.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	c := m.active
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || c == nil {
		return ErrNotConnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return errSendBufferFull
	}
}

// teardownLocked closes the active connection, if any, and emits a single
// disconnect transition if the state actually changed. Must be called with
// mu held.
func (m *Manager) teardownLocked(err error) {
	if m.active != nil {
		m.active.close()
		m.active.ws.Close()
		m.active = nil
	}
	if m.state != StateDisconnected {
		m.state = StateDisconnected
		if err != nil {
			m.emitLocked(Event{Kind: EventDisconnected, Err: err})
		} else {
			m.emitLocked(Event{Kind: EventDisconnected})
		}
	}
}

// disconnected handles an unexpected transport failure observed by a pump.
// Only the connection that failed may transition the state: a stale pump
// from a torn-down connection must not clobber a newer session.
func (m *Manager) disconnected(c *conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != c {
		return
	}
	m.logger.Warn("connection lost", "error", err)
	m.teardownLocked(err)
}

// readPump reads frames until the connection dies, decoding each at the
// boundary. Malformed or unknown frames are logged and dropped, never
// delivered downstream.
func (m *Manager) readPump(c *conn) {
	c.ws.SetReadDeadline(time.Now().Add(m.pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(m.pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close()
			m.disconnected(c, err)
			return
		}

		ev, err := wire.DecodeServerFrame(data)
		if err != nil {
			m.logger.Warn("dropping bad frame", "error", err)
			continue
		}
		m.emit(Event{Kind: EventMessage, Message: ev})
	}
}

// writePump writes queued frames and keepalive pings until the connection dies.
func (m *Manager) writePump(c *conn) {
	pingPeriod := m.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				m.disconnected(c, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				m.disconnected(c, err)
				return
			}
		}
	}
}

// emit delivers an event from outside the lock, e.g. the read pump.
func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(ev)
}

// emitLocked delivers an event without blocking; the consumer falling this
// far behind means REST refresh will repair any gap. Must be called with mu
// held, which also orders every send before Shutdown closes the channel.
func (m *Manager) emitLocked(ev Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event stream full, dropping event", "kind", ev.Kind)
	}
}
