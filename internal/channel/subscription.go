package channel

// Subscription is a bounded queue of inbound frames. When the queue is full
// new frames are dropped; the channel never blocks on a slow consumer.
type Subscription struct {
	m  *Manager
	ch chan []byte
}

// Subscribe registers a queue of at most size frames. The queue's channel is
// closed on Unsubscribe or when the manager closes.
func (m *Manager) Subscribe(size int) *Subscription {
	if size < 1 {
		size = 1
	}
	s := &Subscription{m: m, ch: make(chan []byte, size)}
	m.mu.Lock()
	if m.closed {
		close(s.ch)
	} else {
		m.subs[s] = struct{}{}
	}
	m.mu.Unlock()
	return s
}

// C delivers inbound frames in channel order.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Unsubscribe stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.subs[s]; ok {
		delete(s.m.subs, s)
		close(s.ch)
	}
}
