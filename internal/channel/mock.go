package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// errMockClosed is what a MockConn read returns after Close.
var errMockClosed = errors.New("mock conn: closed")

// MockBootstrapper implements Bootstrapper for tests. Each call returns a
// distinct address unless an error is configured.
type MockBootstrapper struct {
	mu    sync.Mutex
	calls int
	err   error
}

// Bootstrap implements Bootstrapper.
func (b *MockBootstrapper) Bootstrap(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return fmt.Sprintf("ws://mock/channel/%d?access_token=t", b.calls), nil
}

// SetErr makes subsequent calls fail with err (nil restores success).
func (b *MockBootstrapper) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Calls returns how many times Bootstrap ran.
func (b *MockBootstrapper) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// MockDialer implements Dialer for tests. It hands out MockConns and tracks
// how many are live at once.
type MockDialer struct {
	mu      sync.Mutex
	conns   []*MockConn
	live    int
	maxLive int
	err     error
	dialed  chan *MockConn
}

// NewMockDialer creates a MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{dialed: make(chan *MockConn, 64)}
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newMockConn(addr, d.onClose)
	d.conns = append(d.conns, c)
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	d.dialed <- c
	return c, nil
}

func (d *MockDialer) onClose() {
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
}

// SetErr makes subsequent dials fail with err.
func (d *MockDialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Dialed delivers every connection as it is opened.
func (d *MockDialer) Dialed() <-chan *MockConn { return d.dialed }

// Conns returns every connection opened so far.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Live returns the number of connections not yet closed.
func (d *MockDialer) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// MaxLive returns the highest number of simultaneously live connections.
func (d *MockDialer) MaxLive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

// MockConn implements Conn for tests.
type MockConn struct {
	Addr string

	mu         sync.Mutex
	inbound    chan []byte
	drop       chan error
	closed     chan struct{}
	closeOnce  sync.Once
	closeCount int
	written    [][]byte
	writeErr   error
	onClose    func()
}

// NewMockConn creates a standalone MockConn.
func NewMockConn(addr string) *MockConn {
	return newMockConn(addr, nil)
}

func newMockConn(addr string, onClose func()) *MockConn {
	return &MockConn{
		Addr:    addr,
		inbound: make(chan []byte, 100),
		drop:    make(chan error, 1),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

// ReadMessage implements Conn.
func (c *MockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.drop:
		return nil, err
	case <-c.closed:
		return nil, errMockClosed
	}
}

// WriteMessage implements Conn.
func (c *MockConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

// Close implements Conn.
func (c *MockConn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// --- Test helpers ---

// SimulateInbound queues a frame as if the server sent it.
func (c *MockConn) SimulateInbound(data []byte) {
	c.inbound <- data
}

// Drop simulates the server closing the connection.
func (c *MockConn) Drop() {
	select {
	case c.drop <- errors.New("mock conn: dropped by peer"):
	default:
	}
}

// SetWriteErr makes subsequent writes fail.
func (c *MockConn) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Written returns a copy of every frame written.
func (c *MockConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// CloseCount returns how many times Close was called.
func (c *MockConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// IsClosed reports whether Close has been called.
func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
