// Package channel owns the single duplex message channel of a chat session.
// The Manager fetches a channel address from a bootstrap collaborator, opens
// exactly one connection, and re-bootstraps whenever that connection closes.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotOpen is returned when writing to a channel that has closed.
	ErrNotOpen = errors.New("channel: not open")
	// ErrClosed is returned when using a Manager after Close.
	ErrClosed = errors.New("channel: manager closed")
	// ErrStarted is returned when Start is called twice.
	ErrStarted = errors.New("channel: manager already started")
)

// Conn is one open duplex, message-oriented connection.
type Conn interface {
	// ReadMessage blocks until the next inbound frame arrives or the
	// connection fails. Any error ends the connection.
	ReadMessage() ([]byte, error)
	// WriteMessage sends a single frame.
	WriteMessage(data []byte) error
	// Close tears the connection down.
	Close() error
}

// Dialer opens a connection to a channel address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Bootstrapper resolves the address of a fresh channel.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (string, error)
}

// Handle is the session's view of one live connection. Writes are
// serialized; Close is idempotent.
type Handle struct {
	id   uint64
	addr string
	conn Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewHandle wraps conn. Managers create handles; tests may build them directly.
func NewHandle(id uint64, addr string, conn Conn) *Handle {
	return &Handle{id: id, addr: addr, conn: conn, done: make(chan struct{})}
}

// ID is a per-manager sequence number, starting at 1.
func (h *Handle) ID() uint64 { return h.id }

// Addr is the address the connection was opened against.
func (h *Handle) Addr() string { return h.addr }

// Open reports whether the connection can still carry writes.
func (h *Handle) Open() bool {
	return h != nil && !h.closed.Load()
}

// Done is closed once the handle has been closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Write sends one frame. It fails fast with ErrNotOpen once the handle is
// closed; nothing is queued.
func (h *Handle) Write(data []byte) error {
	if !h.Open() {
		return ErrNotOpen
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closed.Load() {
		return ErrNotOpen
	}
	return h.conn.WriteMessage(data)
}

// Close closes the connection once. Later calls return the first result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = h.conn.Close()
		close(h.done)
	})
	return h.closeErr
}
