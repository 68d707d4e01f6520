// Package notice collects user-visible notices. Failures that the technician
// has to act on (usually by refreshing) land here instead of crashing.
package notice

import (
	"sync"
	"time"
)

// Kind classifies a notice.
type Kind string

const (
	KindError Kind = "error"
	KindInfo  Kind = "info"
)

// Notice is a persistent, user-visible message.
type Notice struct {
	Kind    Kind      `json:"kind"`
	Text    string    `json:"text"`
	Refresh bool      `json:"refresh"` // offer a refresh action
	At      time.Time `json:"at"`
	Count   int       `json:"count"` // occurrences coalesced into this notice
}

// Notifier receives notices from the core components.
type Notifier interface {
	Notify(n Notice)
}

// Refresh builds an error notice that prompts the user to refresh.
func Refresh(text string) Notice {
	return Notice{Kind: KindError, Text: text, Refresh: true}
}

// Info builds an informational notice.
func Info(text string) Notice {
	return Notice{Kind: KindInfo, Text: text}
}

// Discard drops every notice.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Notice) {}

// Board keeps notices until dismissed. Notices with the same kind and text
// coalesce into one entry with an incremented count.
type Board struct {
	mu      sync.Mutex
	notices []Notice
	now     func() time.Time
	subs    map[chan struct{}]struct{}
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{now: time.Now, subs: make(map[chan struct{}]struct{})}
}

// Notify implements Notifier.
func (b *Board) Notify(n Notice) {
	b.mu.Lock()
	if n.At.IsZero() {
		n.At = b.now()
	}
	merged := false
	for i := range b.notices {
		if b.notices[i].Kind == n.Kind && b.notices[i].Text == n.Text {
			b.notices[i].Count++
			b.notices[i].At = n.At
			b.notices[i].Refresh = b.notices[i].Refresh || n.Refresh
			merged = true
			break
		}
	}
	if !merged {
		n.Count = 1
		b.notices = append(b.notices, n)
	}
	b.signalLocked()
	b.mu.Unlock()
}

// List returns a copy of the current notices, oldest first.
func (b *Board) List() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notice, len(b.notices))
	copy(out, b.notices)
	return out
}

// Dismiss removes every notice with the given text. It returns false when
// nothing matched.
func (b *Board) Dismiss(text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.notices[:0]
	removed := false
	for _, n := range b.notices {
		if n.Text == text {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	b.notices = kept
	if removed {
		b.signalLocked()
	}
	return removed
}

// Watch returns a coalescing change signal and a function to stop watching.
func (b *Board) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *Board) signalLocked() {
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
