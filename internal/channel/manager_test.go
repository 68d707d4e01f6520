package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/fieldchat/internal/notice"
	"go.uber.org/goleak"
)

// Compile-time interface compliance checks.
var (
	_ Bootstrapper = (*MockBootstrapper)(nil)
	_ Dialer       = (*MockDialer)(nil)
	_ Conn         = (*MockConn)(nil)
	_ Dialer       = WebSocketDialer{}
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextConn(t *testing.T, d *MockDialer) *MockConn {
	t.Helper()
	select {
	case c := <-d.Dialed():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func newTestManager(t *testing.T) (*Manager, *MockBootstrapper, *MockDialer, *notice.Board) {
	t.Helper()
	boot := &MockBootstrapper{}
	dialer := NewMockDialer()
	board := notice.NewBoard()
	m, err := NewManager(ManagerOpts{Bootstrapper: boot, Dialer: dialer, Notifier: board})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, boot, dialer, board
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	if _, err := NewManager(ManagerOpts{Dialer: NewMockDialer()}); err == nil {
		t.Error("expected error without bootstrapper")
	}
	if _, err := NewManager(ManagerOpts{Bootstrapper: &MockBootstrapper{}}); err == nil {
		t.Error("expected error without dialer")
	}
}

func TestManager_OpensOneChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, boot, dialer, _ := newTestManager(t)
	if m.Ready() {
		t.Fatal("ready before Start")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := nextConn(t, dialer)
	waitFor(t, "ready", m.Ready)

	if boot.Calls() != 1 {
		t.Errorf("bootstrap calls = %d, want 1", boot.Calls())
	}
	if m.State() != StateOpen {
		t.Errorf("State = %q, want open", m.State())
	}
	if m.Address() != conn.Addr {
		t.Errorf("Address = %q, want %q", m.Address(), conn.Addr)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestManager_StartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, _, _ := newTestManager(t)
	defer m.Close()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start = %v, want ErrStarted", err)
	}
}

func TestManager_ReconnectConverges(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, boot, dialer, _ := newTestManager(t)
	defer m.Close()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := nextConn(t, dialer)
	waitFor(t, "first open", m.Ready)
	firstHandle := m.Handle()

	first.Drop()
	second := nextConn(t, dialer)
	waitFor(t, "second open", func() bool {
		h := m.Handle()
		return h != nil && h != firstHandle && h.Open()
	})

	if boot.Calls() != 2 {
		t.Errorf("bootstrap calls = %d, want 2", boot.Calls())
	}
	if !first.IsClosed() {
		t.Error("dropped connection was not closed")
	}
	if first.CloseCount() != 1 {
		t.Errorf("dropped conn closed %d times, want 1", first.CloseCount())
	}
	if second.Addr == first.Addr {
		t.Error("reconnect reused the old address")
	}
	if firstHandle.Open() {
		t.Error("old handle still reports open")
	}
	if got := dialer.MaxLive(); got != 1 {
		t.Errorf("max live connections = %d, want 1", got)
	}
	if len(dialer.Conns()) != 2 {
		t.Errorf("dialed %d connections, want exactly 2", len(dialer.Conns()))
	}
}

func TestManager_RepeatedDropsNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, boot, dialer, _ := newTestManager(t)
	defer m.Close()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		c := nextConn(t, dialer)
		c.Drop()
	}
	nextConn(t, dialer)
	waitFor(t, "open after drops", m.Ready)
	if boot.Calls() != 6 {
		t.Errorf("bootstrap calls = %d, want 6", boot.Calls())
	}
	if dialer.MaxLive() != 1 {
		t.Errorf("max live = %d, want 1", dialer.MaxLive())
	}
	if m.Stats().Opened != 6 {
		t.Errorf("Stats.Opened = %d, want 6", m.Stats().Opened)
	}
}

func TestManager_NoReconnectPerMessage(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, boot, dialer, _ := newTestManager(t)
	defer m.Close()
	sub := m.Subscribe(8)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := nextConn(t, dialer)
	for i := 0; i < 3; i++ {
		conn.SimulateInbound([]byte("frame"))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-sub.C():
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}
	if boot.Calls() != 1 {
		t.Errorf("bootstrap calls = %d, want 1", boot.Calls())
	}
}

func TestManager_BootstrapFailureNotifiesWithoutRetry(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, boot, dialer, board := newTestManager(t)
	defer m.Close()
	boot.SetErr(errors.New("503"))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "failed state", func() bool { return m.State() == StateFailed })

	time.Sleep(20 * time.Millisecond)
	if boot.Calls() != 1 {
		t.Errorf("bootstrap calls = %d, want 1 (no automatic retry)", boot.Calls())
	}
	if len(dialer.Conns()) != 0 {
		t.Error("dialed without an address")
	}
	notices := board.List()
	if len(notices) != 1 || !notices[0].Refresh || !strings.Contains(notices[0].Text, "please refresh") {
		t.Errorf("notices = %+v, want one refresh prompt", notices)
	}
}

func TestManager_RetryAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, boot, dialer, _ := newTestManager(t)
	defer m.Close()
	boot.SetErr(errors.New("503"))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "failed state", func() bool { return m.State() == StateFailed })
	waitFor(t, "loop exit", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return !m.running
	})

	boot.SetErr(nil)
	if !m.Retry() {
		t.Fatal("Retry = false, want true")
	}
	nextConn(t, dialer)
	waitFor(t, "open after retry", m.Ready)
	if boot.Calls() != 2 {
		t.Errorf("bootstrap calls = %d, want 2", boot.Calls())
	}
	if m.Retry() {
		t.Error("Retry while running should be a no-op")
	}
}

func TestManager_DialFailureNotifies(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, dialer, board := newTestManager(t)
	defer m.Close()
	dialer.SetErr(errors.New("tls handshake"))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "failed state", func() bool { return m.State() == StateFailed })
	if m.Address() != "" {
		t.Errorf("Address = %q, want cleared after failure", m.Address())
	}
	if got := board.List(); len(got) != 1 || got[0].Text != dialFailedText {
		t.Errorf("notices = %+v", got)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, dialer, _ := newTestManager(t)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := nextConn(t, dialer)
	waitFor(t, "ready", m.Ready)
	h := m.Handle()

	for i := 0; i < 3; i++ {
		if err := m.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	if conn.CloseCount() != 1 {
		t.Errorf("conn closed %d times, want exactly 1", conn.CloseCount())
	}
	if h.Open() {
		t.Error("handle open after Close")
	}
	if m.Handle() != nil {
		t.Error("manager still exposes a handle")
	}
	if m.State() != StateClosed {
		t.Errorf("State = %q, want closed", m.State())
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if len(dialer.Conns()) != 1 {
		t.Errorf("dialed %d connections, want 1 (no reconnect on teardown)", len(dialer.Conns()))
	}
}

func TestManager_ContextCancelClosesChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, dialer, _ := newTestManager(t)
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := nextConn(t, dialer)
	waitFor(t, "ready", m.Ready)

	cancel()
	waitFor(t, "conn closed", conn.IsClosed)
	waitFor(t, "handle cleared", func() bool { return m.Handle() == nil })
	if len(dialer.Conns()) != 1 {
		t.Errorf("dialed %d connections after cancel, want 1", len(dialer.Conns()))
	}
}

func TestHandle_WriteAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, dialer, _ := newTestManager(t)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := nextConn(t, dialer)
	waitFor(t, "ready", m.Ready)
	h := m.Handle()

	if err := h.Write([]byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := conn.Written(); len(got) != 1 || string(got[0]) != `{"id":"1"}` {
		t.Errorf("Written = %q", got)
	}

	m.Close()
	if err := h.Write([]byte("late")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Write after close = %v, want ErrNotOpen", err)
	}
	var nilHandle *Handle
	if nilHandle.Open() {
		t.Error("nil handle reports open")
	}
}

func TestSubscription_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, dialer, _ := newTestManager(t)
	defer m.Close()
	sub := m.Subscribe(1)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := nextConn(t, dialer)
	conn.SimulateInbound([]byte("a"))
	conn.SimulateInbound([]byte("b"))
	waitFor(t, "drop counted", func() bool { return m.Stats().Dropped == 1 })

	if got := <-sub.C(); string(got) != "a" {
		t.Errorf("first frame = %q, want a", got)
	}
}

func TestSubscription_Unsubscribe(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	sub := m.Subscribe(4)
	sub.Unsubscribe()
	sub.Unsubscribe()
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	m.Close()

	late := m.Subscribe(4)
	if _, ok := <-late.C(); ok {
		t.Error("subscription on closed manager should be closed")
	}
}

func TestManager_CloseEndsSubscriptions(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	sub := m.Subscribe(4)
	m.Close()
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("unexpected frame")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by manager Close")
	}
}

func TestManager_WatchSignalsStateChanges(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _, dialer, _ := newTestManager(t)
	defer m.Close()
	ch, stop := m.Watch()
	defer stop()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	nextConn(t, dialer)
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no state-change signal")
	}
}

func TestRedact(t *testing.T) {
	if got := redact("wss://h/client?access_token=secret"); strings.Contains(got, "secret") {
		t.Errorf("redact leaked token: %q", got)
	}
	if got := redact("wss://h/client"); got != "wss://h/client" {
		t.Errorf("redact changed plain url: %q", got)
	}
}
