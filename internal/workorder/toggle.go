package workorder

import "github.com/zulandar/fieldchat/internal/models"

// toggle is the optimistic completion change for one work order. apply
// mutates the list immediately and the selection on a later turn; compensate
// undoes both the same way.
type toggle struct {
	s      *Store
	id     string
	target models.Status

	index      int
	before     models.WorkOrder
	wasCurrent bool
}

// apply writes the target status into the list. It reports false when the
// id is not present.
func (t *toggle) apply() bool {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(t.id)
	if idx < 0 {
		return false
	}
	t.index = idx
	t.before = s.orders[idx]
	t.wasCurrent = s.hasCurrent && s.current.OrderID == t.id
	after := t.before.WithStatus(t.target)
	s.orders[idx] = after
	s.signalLocked()
	if t.wasCurrent {
		s.queue.Post(func() { s.replaceCurrent(t.id, after) })
	}
	return true
}

// confirm accepts the optimistic state.
func (t *toggle) confirm() {}

// compensate restores the pre-toggle object at its original position and,
// on a later turn, restores the selection. It is a no-op when the order has
// since disappeared.
func (t *toggle) compensate() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := t.index
	if idx >= len(s.orders) || s.orders[idx].OrderID != t.id {
		idx = s.indexLocked(t.id)
	}
	if idx < 0 {
		return
	}
	s.orders[idx] = t.before
	s.signalLocked()
	if t.wasCurrent {
		before := t.before
		s.queue.Post(func() { s.replaceCurrent(t.id, before) })
	}
}
