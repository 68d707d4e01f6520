// Package chat holds the active conversation's message list and the gateway
// that moves envelopes between it and the channel.
package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/fieldchat/internal/logging"
	"github.com/zulandar/fieldchat/internal/models"
	"github.com/zulandar/fieldchat/internal/notice"
	"go.uber.org/zap"
)

// PlaceholderText is the body of the transient entry shown while an image is
// being compressed.
const PlaceholderText = "Processing image..."

const historyFailedText = "Error fetching chat history, please refresh."

// HistoryFetcher loads a conversation's stored messages.
type HistoryFetcher interface {
	History(ctx context.Context, conversationID string) ([]models.HistoricalMessage, error)
}

// Recorder receives every message appended to the store.
type Recorder interface {
	Record(ctx context.Context, conversationID string, seq int, m models.Message) error
}

// StoreOpts holds parameters for creating a MessageStore.
type StoreOpts struct {
	History  HistoryFetcher
	Notifier notice.Notifier // optional
	Recorder Recorder        // optional
	Logger   *zap.Logger     // optional
}

// MessageStore is the ordered message list of the bound conversation. It is
// append-only except for the trailing image placeholder.
type MessageStore struct {
	history  HistoryFetcher
	notifier notice.Notifier
	recorder Recorder
	logger   *zap.Logger

	mu           sync.Mutex
	conversation string
	messages     []models.Message
	busy         bool
	processing   bool
	generation   uint64
	watchers     map[chan struct{}]struct{}

	// While a hydrate is outstanding, appends for the conversation being
	// bound wait here and land after its history.
	hydrating bool
	previous  string
	pending   []models.Message
}

// NewStore creates an empty MessageStore.
func NewStore(opts StoreOpts) (*MessageStore, error) {
	if opts.History == nil {
		return nil, fmt.Errorf("chat: history fetcher is required")
	}
	n := opts.Notifier
	if n == nil {
		n = notice.Discard{}
	}
	return &MessageStore{
		history:  opts.History,
		notifier: n,
		recorder: opts.Recorder,
		logger:   logging.OrNop(opts.Logger).With(zap.String("component", "messages")),
		watchers: make(map[chan struct{}]struct{}),
	}, nil
}

// Append adds m to the end of the list. A trailing placeholder is replaced
// by any real message. During a hydrate the message is held until the
// history arrives.
func (s *MessageStore) Append(m models.Message) {
	s.mu.Lock()
	if s.hydrating && !m.Placeholder {
		s.pending = append(s.pending, m)
		s.signalLocked()
		s.mu.Unlock()
		return
	}
	if !m.Placeholder && s.lastIsPlaceholderLocked() {
		s.messages[len(s.messages)-1] = m
		s.processing = false
	} else {
		s.messages = append(s.messages, m)
	}
	conv, seq := s.conversation, len(s.messages)
	s.signalLocked()
	s.mu.Unlock()

	s.record(conv, seq, m)
}

// AppendPlaceholder adds the "Processing image..." entry and raises the
// processing-image flag.
func (s *MessageStore) AppendPlaceholder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, models.Message{
		Sender:      models.RoleUser,
		Body:        PlaceholderText,
		Placeholder: true,
	})
	s.processing = true
	s.signalLocked()
}

// ReplaceLastPlaceholderWith swaps a trailing placeholder for m. It reports
// false, changing nothing, when the last entry is not a placeholder.
func (s *MessageStore) ReplaceLastPlaceholderWith(m models.Message) bool {
	s.mu.Lock()
	if !s.lastIsPlaceholderLocked() {
		s.mu.Unlock()
		return false
	}
	s.messages[len(s.messages)-1] = m
	s.processing = false
	conv, seq := s.conversation, len(s.messages)
	s.signalLocked()
	s.mu.Unlock()

	s.record(conv, seq, m)
	return true
}

// ClearPlaceholder drops a trailing placeholder, used when compression fails.
func (s *MessageStore) ClearPlaceholder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	if !s.lastIsPlaceholderLocked() {
		s.signalLocked()
		return false
	}
	s.messages = s.messages[:len(s.messages)-1]
	s.signalLocked()
	return true
}

func (s *MessageStore) lastIsPlaceholderLocked() bool {
	return len(s.messages) > 0 && s.messages[len(s.messages)-1].Placeholder
}

// SetBusy sets the provider-busy flag.
func (s *MessageStore) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy != busy {
		s.busy = busy
		s.signalLocked()
	}
}

// Busy reports whether a hydrate is outstanding.
func (s *MessageStore) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SetProcessingImage sets the processing-image flag.
func (s *MessageStore) SetProcessingImage(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing != v {
		s.processing = v
		s.signalLocked()
	}
}

// ProcessingImage reports whether an image is being compressed.
func (s *MessageStore) ProcessingImage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Messages returns a copy of the list in display order.
func (s *MessageStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of entries, placeholder included.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Conversation returns the conversation id the list belongs to.
func (s *MessageStore) Conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

// Hydrate replaces the list with conversationID's history. The store is
// bound to conversationID as soon as the fetch starts and busy is set while it
// is outstanding. When a newer Hydrate starts before this one returns, this
// result is discarded. On failure the previous list and binding stay and a
// refresh notice is posted.
func (s *MessageStore) Hydrate(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	flushed := s.takePendingLocked()
	if !s.hydrating {
		s.previous = s.conversation
	}
	s.hydrating = true
	s.conversation = conversationID
	s.busy = true
	s.signalLocked()
	s.mu.Unlock()
	s.recordAll(flushed)

	history, err := s.history.History(ctx, conversationID)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history", zap.String("conversation", conversationID))
		return nil
	}
	late := s.takePendingLocked()
	s.hydrating = false
	s.busy = false
	defer s.recordAll(late)
	defer s.mu.Unlock()
	defer s.signalLocked()
	if err != nil {
		s.conversation = s.previous
		s.logger.Error("fetch history failed", zap.String("conversation", conversationID), zap.Error(err))
		s.notifier.Notify(notice.Refresh(historyFailedText))
		return fmt.Errorf("chat: hydrate %s: %w", conversationID, err)
	}

	msgs := make([]models.Message, 0, len(history)+len(late))
	for _, h := range history {
		msgs = append(msgs, fromHistory(h))
	}
	for i := range late {
		msgs = append(msgs, late[i].m)
		late[i].seq = len(msgs)
	}
	s.messages = msgs
	s.processing = false
	return nil
}

// Reset empties the list and unbinds it, used when no work order is
// selected.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	s.generation++
	flushed := s.takePendingLocked()
	s.hydrating = false
	s.conversation = ""
	s.messages = nil
	s.busy = false
	s.processing = false
	s.signalLocked()
	s.mu.Unlock()
	s.recordAll(flushed)
}

type journalEntry struct {
	conv string
	seq  int
	m    models.Message
}

// takePendingLocked drains the appends held for the conversation being
// hydrated. Their sequence defaults to arrival order.
func (s *MessageStore) takePendingLocked() []journalEntry {
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]journalEntry, len(s.pending))
	for i, m := range s.pending {
		out[i] = journalEntry{conv: s.conversation, seq: i + 1, m: m}
	}
	s.pending = nil
	return out
}

func (s *MessageStore) recordAll(entries []journalEntry) {
	for _, e := range entries {
		s.record(e.conv, e.seq, e.m)
	}
}

func fromHistory(h models.HistoricalMessage) models.Message {
	cites := h.Citations
	if cites == nil {
		cites = []models.Citation{}
	}
	return models.Message{
		ID:        uuid.NewString(),
		Sender:    models.ParseRole(h.Sender),
		Body:      h.Message,
		SentAt:    h.SentAt / 1000,
		Citations: cites,
		IsImage:   h.IsImage,
	}
}

func (s *MessageStore) record(conv string, seq int, m models.Message) {
	if s.recorder == nil || m.Placeholder || conv == "" {
		return
	}
	if err := s.recorder.Record(context.Background(), conv, seq, m); err != nil {
		s.logger.Warn("journal record failed", zap.String("conversation", conv), zap.Error(err))
	}
}

// Watch returns a coalescing change signal and a function to stop watching.
func (s *MessageStore) Watch() (<-chan struct{}, func()) {
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

func (s *MessageStore) signalLocked() {
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
