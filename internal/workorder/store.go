// Package workorder keeps the technician's work-order list and current
// selection, and applies completion toggles optimistically with rollback.
package workorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/fieldchat/internal/logging"
	"github.com/zulandar/fieldchat/internal/models"
	"github.com/zulandar/fieldchat/internal/notice"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a work order id is not in the list.
var ErrNotFound = errors.New("workorder: not found")

const (
	emptyText       = "No work orders found."
	fetchFailedText = "Error fetching work orders, please refresh."
)

// Backend is the work-order collaborator. *api.Client implements it.
type Backend interface {
	WorkOrders(ctx context.Context) ([]models.WorkOrder, error)
	SetDone(ctx context.Context, conversationID string, done bool) error
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	Backend  Backend
	Queue    *Queue          // optional; one is created when nil
	Notifier notice.Notifier // optional
	Logger   *zap.Logger     // optional
}

// Store is the canonical ordered work-order list and the current selection.
// The list changes only through Load, Refresh, MarkDone and MarkNotDone.
type Store struct {
	backend  Backend
	queue    *Queue
	notifier notice.Notifier
	logger   *zap.Logger

	mu         sync.Mutex
	orders     []models.WorkOrder
	current    models.WorkOrder
	hasCurrent bool
	pending    map[string]chan struct{}
	watchers   map[chan struct{}]struct{}
}

// NewStore creates an empty Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("workorder: backend is required")
	}
	q := opts.Queue
	if q == nil {
		q = NewQueue()
	}
	n := opts.Notifier
	if n == nil {
		n = notice.Discard{}
	}
	return &Store{
		backend:  opts.Backend,
		queue:    q,
		notifier: n,
		logger:   logging.OrNop(opts.Logger).With(zap.String("component", "workorders")),
		pending:  make(map[string]chan struct{}),
		watchers: make(map[chan struct{}]struct{}),
	}, nil
}

// Queue returns the task queue that carries deferred selection updates.
func (s *Store) Queue() *Queue { return s.queue }

// Load fetches the list and selects the first entry. An empty list posts a
// "no work orders" notice.
func (s *Store) Load(ctx context.Context) error {
	return s.load(ctx, false)
}

// Refresh re-fetches the list. The current selection is kept when its id is
// still present, otherwise the first entry is selected.
func (s *Store) Refresh(ctx context.Context) error {
	return s.load(ctx, true)
}

func (s *Store) load(ctx context.Context, keep bool) error {
	orders, err := s.backend.WorkOrders(ctx)
	if err != nil {
		s.logger.Error("fetch work orders failed", zap.Error(err))
		s.notifier.Notify(notice.Refresh(fetchFailedText))
		return fmt.Errorf("workorder: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append([]models.WorkOrder(nil), orders...)
	defer s.signalLocked()

	if len(s.orders) == 0 {
		s.current, s.hasCurrent = models.WorkOrder{}, false
		s.notifier.Notify(notice.Info(emptyText))
		return nil
	}
	if keep && s.hasCurrent {
		if idx := s.indexLocked(s.current.OrderID); idx >= 0 {
			s.current = s.orders[idx]
			return nil
		}
	}
	s.current, s.hasCurrent = s.orders[0], true
	return nil
}

// List returns a copy of the work orders in order.
func (s *Store) List() []models.WorkOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WorkOrder(nil), s.orders...)
}

// Open returns the work orders that are not completed.
func (s *Store) Open() []models.WorkOrder {
	return s.filter(func(w models.WorkOrder) bool { return !w.Completed() })
}

// Archived returns the completed work orders.
func (s *Store) Archived() []models.WorkOrder {
	return s.filter(models.WorkOrder.Completed)
}

func (s *Store) filter(keep func(models.WorkOrder) bool) []models.WorkOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WorkOrder
	for _, w := range s.orders {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

// Get returns the work order with the given id.
func (s *Store) Get(id string) (models.WorkOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.orders[idx], true
	}
	return models.WorkOrder{}, false
}

// Current returns the selected work order.
func (s *Store) Current() (models.WorkOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

// Select makes the work order with the given id current.
func (s *Store) Select(id string) (models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.WorkOrder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.current, s.hasCurrent = s.orders[idx], true
	s.signalLocked()
	return s.current, nil
}

// MarkDone marks the work order completed.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	return s.toggle(ctx, id, true)
}

// MarkNotDone marks the work order not completed.
func (s *Store) MarkNotDone(ctx context.Context, id string) error {
	return s.toggle(ctx, id, false)
}

// toggle applies the change optimistically, calls the backend, and rolls
// back on failure. Toggles on the same id run one at a time.
func (s *Store) toggle(ctx context.Context, id string, done bool) error {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	t := &toggle{s: s, id: id, target: models.StatusFor(done)}
	if !t.apply() {
		s.logger.Error("toggle unknown work order", zap.String("order", id))
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := s.backend.SetDone(ctx, t.before.ConversationID, done); err != nil {
		t.compensate()
		s.logger.Error("toggle work order failed, rolled back",
			zap.String("order", id),
			zap.String("conversation", t.before.ConversationID),
			zap.Bool("done", done),
			zap.Error(err))
		return fmt.Errorf("workorder: mark %s done=%t: %w", id, done, err)
	}
	t.confirm()
	return nil
}

// acquire waits until no other toggle on id is outstanding.
func (s *Store) acquire(ctx context.Context, id string) (func(), error) {
	for {
		s.mu.Lock()
		wait, busy := s.pending[id]
		if !busy {
			ch := make(chan struct{})
			s.pending[id] = ch
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				delete(s.pending, id)
				s.mu.Unlock()
				close(ch)
			}, nil
		}
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// replaceCurrent swaps in wo when the selection still points at id.
func (s *Store) replaceCurrent(id string, wo models.WorkOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasCurrent && s.current.OrderID == id {
		s.current = wo
		s.signalLocked()
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.orders {
		if s.orders[i].OrderID == id {
			return i
		}
	}
	return -1
}

// Watch returns a coalescing change signal and a function to stop watching.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}
}

func (s *Store) signalLocked() {
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
