// Package session wires one technician session: a single channel, the
// work-order and message stores, and the gateway between them. Stores are
// constructed once per session and passed explicitly; nothing is global.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/zulandar/fieldchat/internal/api"
	"github.com/zulandar/fieldchat/internal/auth"
	"github.com/zulandar/fieldchat/internal/channel"
	"github.com/zulandar/fieldchat/internal/chat"
	"github.com/zulandar/fieldchat/internal/config"
	"github.com/zulandar/fieldchat/internal/imaging"
	"github.com/zulandar/fieldchat/internal/logging"
	"github.com/zulandar/fieldchat/internal/models"
	"github.com/zulandar/fieldchat/internal/notice"
	"github.com/zulandar/fieldchat/internal/workorder"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is every HTTP collaborator the session needs. *api.Client
// implements it.
type Backend interface {
	channel.Bootstrapper
	chat.HistoryFetcher
	workorder.Backend
	chat.TokenSource
}

// Opts holds parameters for creating a Session.
type Opts struct {
	Config *config.Config

	Backend  Backend        // optional; built from Config.API and Config.Auth
	Dialer   channel.Dialer // optional; WebSocket by default
	Recorder chat.Recorder  // optional transcript journal
	Logger   *zap.Logger    // optional

	HTTPClient *http.Client // optional; used when Backend is nil
}

// Session owns the per-session stores.
type Session struct {
	cfg     *config.Config
	logger  *zap.Logger
	board   *notice.Board
	channel *channel.Manager
	orders  *workorder.Store
	msgs    *chat.MessageStore
	gateway *chat.Gateway

	mu    sync.Mutex
	bound string // conversation last requested for hydration
}

// New builds a Session. Nothing touches the network until Run.
func New(opts Opts) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	cfg := opts.Config
	logger := logging.OrNop(opts.Logger)

	backend := opts.Backend
	if backend == nil {
		client, err := api.New(api.ClientOpts{
			Config:     cfg.API,
			Auth:       auth.New(cfg.Auth),
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		backend = client
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = channel.WebSocketDialer{}
	}

	board := notice.NewBoard()
	mgr, err := channel.NewManager(channel.ManagerOpts{
		Bootstrapper:   backend,
		Dialer:         dialer,
		Notifier:       board,
		Logger:         logger,
		ReconnectDelay: cfg.Chat.ReconnectDelay(),
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	orders, err := workorder.NewStore(workorder.StoreOpts{
		Backend:  backend,
		Notifier: board,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	msgs, err := chat.NewStore(chat.StoreOpts{
		History:  backend,
		Notifier: board,
		Recorder: opts.Recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	gw, err := chat.NewGateway(chat.GatewayOpts{
		Channel:          mgr,
		Selection:        orders,
		Messages:         msgs,
		Compressor:       imaging.NewCompressor(imaging.FromConfig(cfg.Image)),
		Tokens:           backend,
		PlaceholderDelay: cfg.Chat.PlaceholderDelay(),
		ValidationIndex:  cfg.Chat.ValidationIndex,
		InboundBuffer:    cfg.Chat.InboundBuffer,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Session{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "session")),
		board:   board,
		channel: mgr,
		orders:  orders,
		msgs:    msgs,
		gateway: gw,
	}, nil
}

// Run opens the channel, loads work orders, hydrates the first
// conversation, and keeps everything running until ctx is done. The
// channel is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.channel.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.gateway.Run(ctx) })
	g.Go(func() error { return s.orders.Queue().Run(ctx) })
	g.Go(func() error { return s.followSelection(ctx) })
	if expr := s.cfg.WorkOrders.RefreshCron; expr != "" {
		g.Go(func() error { return s.orders.RunRefresh(ctx, expr) })
	}

	if err := s.channel.Start(ctx); err != nil {
		cancel()
		g.Wait()
		return fmt.Errorf("session: start channel: %w", err)
	}
	if err := s.orders.Load(ctx); err != nil {
		s.logger.Warn("initial work-order load failed", zap.Error(err))
	} else if err := s.syncConversation(ctx); err != nil {
		s.logger.Warn("initial history load failed", zap.Error(err))
	}

	<-ctx.Done()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// followSelection re-hydrates the message store whenever the current work
// order's conversation changes.
func (s *Session) followSelection(ctx context.Context) error {
	ch, stop := s.orders.Watch()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			if err := s.syncConversation(ctx); err != nil {
				s.logger.Debug("history sync failed", zap.Error(err))
			}
		}
	}
}

// syncConversation binds the message store to the current work order.
func (s *Session) syncConversation(ctx context.Context) error {
	cur, ok := s.orders.Current()
	s.mu.Lock()
	if !ok {
		s.bound = ""
		s.mu.Unlock()
		s.msgs.Reset()
		return nil
	}
	conv := cur.ConversationID
	if conv == s.bound {
		s.mu.Unlock()
		return nil
	}
	s.bound = conv
	s.mu.Unlock()

	if err := s.msgs.Hydrate(ctx, conv); err != nil {
		s.mu.Lock()
		if s.bound == conv {
			s.bound = ""
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Select makes a work order current and loads its conversation.
func (s *Session) Select(ctx context.Context, orderID string) error {
	if _, err := s.orders.Select(orderID); err != nil {
		return err
	}
	return s.syncConversation(ctx)
}

// Send sends a message, or an image when image is non-nil.
func (s *Session) Send(ctx context.Context, body string, image io.Reader) error {
	return s.gateway.Send(ctx, body, image)
}

// MarkDone marks a work order completed.
func (s *Session) MarkDone(ctx context.Context, orderID string) error {
	return s.orders.MarkDone(ctx, orderID)
}

// MarkNotDone marks a work order not completed.
func (s *Session) MarkNotDone(ctx context.Context, orderID string) error {
	return s.orders.MarkNotDone(ctx, orderID)
}

// Refresh is the user's refresh action: it clears notices, restarts a
// failed channel, reloads work orders, and re-hydrates the conversation.
func (s *Session) Refresh(ctx context.Context) error {
	for _, n := range s.board.List() {
		s.board.Dismiss(n.Text)
	}
	s.channel.Retry()
	if err := s.orders.Refresh(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = ""
	s.mu.Unlock()
	return s.syncConversation(ctx)
}

// IsBusy reports whether composing is disabled.
func (s *Session) IsBusy() bool { return s.gateway.IsBusy() }

// State is a point-in-time view of the session.
type State struct {
	Channel         channel.State     `json:"channel"`
	Ready           bool              `json:"ready"`
	Busy            bool              `json:"busy"`
	ProcessingImage bool              `json:"processing_image"`
	Conversation    string            `json:"conversation"`
	Current         *models.WorkOrder `json:"current,omitempty"`
	MessageCount    int               `json:"message_count"`
	Notices         []notice.Notice   `json:"notices"`
	Stats           channel.Stats     `json:"stats"`
}

// Snapshot captures the current State.
func (s *Session) Snapshot() State {
	st := State{
		Channel:         s.channel.State(),
		Ready:           s.channel.Ready(),
		Busy:            s.gateway.IsBusy(),
		ProcessingImage: s.msgs.ProcessingImage(),
		Conversation:    s.msgs.Conversation(),
		MessageCount:    s.msgs.Len(),
		Notices:         s.board.List(),
		Stats:           s.channel.Stats(),
	}
	if cur, ok := s.orders.Current(); ok {
		st.Current = &cur
	}
	return st
}

// Messages returns the conversation's messages in display order.
func (s *Session) Messages() []models.Message { return s.msgs.Messages() }

// WorkOrders returns all work orders.
func (s *Session) WorkOrders() []models.WorkOrder { return s.orders.List() }

// OpenWorkOrders returns the work orders not yet completed.
func (s *Session) OpenWorkOrders() []models.WorkOrder { return s.orders.Open() }

// ArchivedWorkOrders returns the completed work orders.
func (s *Session) ArchivedWorkOrders() []models.WorkOrder { return s.orders.Archived() }

// Notices returns the outstanding notices.
func (s *Session) Notices() []notice.Notice { return s.board.List() }

// Dismiss removes a notice.
func (s *Session) Dismiss(text string) bool { return s.board.Dismiss(text) }

// Watch fans in change signals from the channel, both stores and the notice
// board. The returned function stops watching.
func (s *Session) Watch() (<-chan struct{}, func()) {
	out := make(chan struct{}, 1)
	sources := []func() (<-chan struct{}, func()){
		s.channel.Watch, s.orders.Watch, s.msgs.Watch, s.board.Watch,
	}
	done := make(chan struct{})
	var stops []func()
	var wg sync.WaitGroup
	for _, src := range sources {
		ch, stop := src()
		stops = append(stops, stop)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case <-ch:
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}()
	}
	var once sync.Once
	return out, func() {
		once.Do(func() {
			for _, stop := range stops {
				stop()
			}
			close(done)
			wg.Wait()
		})
	}
}

// Close closes the channel. It is safe to call more than once.
func (s *Session) Close() error { return s.channel.Close() }
