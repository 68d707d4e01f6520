package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/fieldchat/internal/logging"
	"github.com/zulandar/fieldchat/internal/notice"
	"go.uber.org/zap"
)

// State is the manager's lifecycle phase.
type State string

const (
	StateIdle          State = "idle"
	StateBootstrapping State = "bootstrapping" // address needed
	StateDialing       State = "dialing"
	StateOpen          State = "open"
	StateFailed        State = "failed" // waiting for a user refresh
	StateClosed        State = "closed"
)

const (
	bootstrapFailedText = "Error fetching chat connection, please refresh."
	dialFailedText      = "Error opening chat connection, please refresh."
)

// Stats counts lifecycle events since the manager was created.
type Stats struct {
	Bootstraps uint64 `json:"bootstraps"`
	Opened     uint64 `json:"opened"`
	Dropped    uint64 `json:"dropped"` // inbound frames lost to full subscriptions
}

// Manager owns the lifecycle of the session's channel. At most one Handle
// is live at any time.
type Manager struct {
	boot           Bootstrapper
	dialer         Dialer
	notifier       notice.Notifier
	logger         *zap.Logger
	reconnectDelay time.Duration

	mu       sync.Mutex
	state    State
	addr     string
	handle   *Handle
	started  bool
	closed   bool
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	subs     map[*Subscription]struct{}
	watchers map[chan struct{}]struct{}
	nextID   uint64

	bootstraps atomic.Uint64
	opened     atomic.Uint64
	dropped    atomic.Uint64

	wg sync.WaitGroup
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Bootstrapper Bootstrapper
	Dialer       Dialer
	Notifier     notice.Notifier // optional
	Logger       *zap.Logger     // optional
	// ReconnectDelay pauses between a close and the next bootstrap. Zero
	// retries immediately.
	ReconnectDelay time.Duration
}

// NewManager creates a Manager. The channel is not opened until Start.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Bootstrapper == nil {
		return nil, fmt.Errorf("channel: bootstrapper is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("channel: dialer is required")
	}
	n := opts.Notifier
	if n == nil {
		n = notice.Discard{}
	}
	return &Manager{
		boot:           opts.Bootstrapper,
		dialer:         opts.Dialer,
		notifier:       n,
		logger:         logging.OrNop(opts.Logger).With(zap.String("component", "channel")),
		reconnectDelay: opts.ReconnectDelay,
		state:          StateIdle,
		subs:           make(map[*Subscription]struct{}),
		watchers:       make(map[chan struct{}]struct{}),
	}, nil
}

// Start begins the bootstrap/open/reconnect loop in the background. The loop
// ends when ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrStarted
	}
	m.started = true
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.launchLocked()
	return nil
}

// Retry restarts the loop after a bootstrap or dial failure. It is the
// user's refresh action; the manager never retries those failures itself.
// Retry reports whether a new attempt was started.
func (m *Manager) Retry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.started || m.running || m.runCtx.Err() != nil {
		return false
	}
	m.launchLocked()
	return true
}

func (m *Manager) launchLocked() {
	m.running = true
	m.wg.Add(1)
	go m.run(m.runCtx)
}

// Close stops the loop and closes the live channel exactly once. It is safe
// to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	h := m.handle
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if h != nil {
		err = h.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.handle = nil
	m.addr = ""
	for s := range m.subs {
		delete(m.subs, s)
		close(s.ch)
	}
	m.setStateLocked(StateClosed)
	m.mu.Unlock()
	return err
}

// Handle returns the live handle, or nil when no channel exists.
func (m *Manager) Handle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Ready reports whether a channel is open for writes.
func (m *Manager) Ready() bool {
	return m.Handle().Open()
}

// Address returns the resolved channel address, empty while one is needed.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns lifecycle counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Bootstraps: m.bootstraps.Load(),
		Opened:     m.opened.Load(),
		Dropped:    m.dropped.Load(),
	}
}

// Watch returns a coalescing signal fired on every state change and a
// function to stop watching.
func (m *Manager) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	for ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		h, ok := m.open(ctx)
		if !ok {
			return
		}
		m.readLoop(ctx, h)
		m.release(h)
		if ctx.Err() != nil {
			return
		}
		m.logger.Info("channel closed, reconnecting", zap.Uint64("handle", h.ID()))
		if m.reconnectDelay > 0 {
			t := time.NewTimer(m.reconnectDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// open runs one bootstrap + dial cycle. Failures notify the user and end the
// loop.
func (m *Manager) open(ctx context.Context) (*Handle, bool) {
	m.setState(StateBootstrapping)
	m.bootstraps.Add(1)
	addr, err := m.boot.Bootstrap(ctx)
	if ctx.Err() != nil {
		return nil, false
	}
	if err != nil {
		m.logger.Error("bootstrap failed", zap.Error(err))
		m.fail(bootstrapFailedText)
		return nil, false
	}

	m.mu.Lock()
	m.addr = addr
	m.setStateLocked(StateDialing)
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		m.logger.Error("dial failed", zap.String("url", redact(addr)), zap.Error(err))
		m.fail(dialFailedText)
		return nil, false
	}

	m.mu.Lock()
	if m.closed || ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return nil, false
	}
	m.nextID++
	h := NewHandle(m.nextID, addr, conn)
	m.handle = h
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	m.opened.Add(1)
	m.logger.Info("channel open", zap.Uint64("handle", h.ID()), zap.String("url", redact(addr)))
	return h, true
}

// fail ends the loop and leaves it to Retry.
func (m *Manager) fail(text string) {
	m.mu.Lock()
	m.running = false
	m.addr = ""
	m.setStateLocked(StateFailed)
	m.mu.Unlock()
	m.notifier.Notify(notice.Refresh(text))
}

func (m *Manager) readLoop(ctx context.Context, h *Handle) {
	stop := context.AfterFunc(ctx, func() { h.Close() })
	defer stop()
	for {
		data, err := h.conn.ReadMessage()
		if err != nil {
			if h.Open() {
				m.logger.Warn("channel read failed", zap.Uint64("handle", h.ID()), zap.Error(err))
			}
			return
		}
		m.publish(data)
	}
}

// release closes h and returns the manager to "address needed".
func (m *Manager) release(h *Handle) {
	if err := h.Close(); err != nil {
		m.logger.Debug("close channel", zap.Uint64("handle", h.ID()), zap.Error(err))
	}
	m.mu.Lock()
	if m.handle == h {
		m.handle = nil
		m.addr = ""
		if !m.closed {
			m.setStateLocked(StateBootstrapping)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) publish(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		select {
		case s.ch <- data:
		default:
			m.dropped.Add(1)
			m.logger.Warn("subscription full, dropping inbound frame", zap.Int("bytes", len(data)))
		}
	}
}

// redact strips the query (which carries access tokens) from an address.
func redact(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '?' {
			return addr[:i] + "?…"
		}
	}
	return addr
}
