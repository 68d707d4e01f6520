package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/fieldchat/internal/channel"
	"github.com/zulandar/fieldchat/internal/logging"
	"github.com/zulandar/fieldchat/internal/models"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send when no open channel exists.
var ErrNotConnected = errors.New("chat: channel not connected")

const (
	defaultInboundBuffer   = 64
	defaultValidationIndex = "validation-index"
)

// ChannelSource exposes the session's channel. *channel.Manager implements it.
type ChannelSource interface {
	Handle() *channel.Handle
	Subscribe(size int) *channel.Subscription
}

// Selection reports the current work order. *workorder.Store implements it.
type Selection interface {
	Current() (models.WorkOrder, bool)
}

// TokenSource supplies the auth token attached to outbound envelopes. An
// empty token is acceptable.
type TokenSource interface {
	Token(ctx context.Context) string
}

// ImageCompressor converts an uploaded image into a data URI body.
type ImageCompressor interface {
	Compress(ctx context.Context, r io.Reader) (string, error)
}

// GatewayOpts holds parameters for creating a Gateway.
type GatewayOpts struct {
	Channel    ChannelSource
	Selection  Selection
	Messages   *MessageStore
	Compressor ImageCompressor // required for image sends
	Tokens     TokenSource     // optional

	PlaceholderDelay time.Duration
	ValidationIndex  string // index sent when no machine is bound
	InboundBuffer    int

	Logger *zap.Logger
	Now    func() time.Time // optional; defaults to time.Now
}

// Gateway builds outbound envelopes, dispatches inbound ones into the
// message store, and computes the send gate.
type Gateway struct {
	ch         ChannelSource
	sel        Selection
	msgs       *MessageStore
	compressor ImageCompressor
	tokens     TokenSource
	delay      time.Duration
	index      string
	logger     *zap.Logger
	now        func() time.Time

	sub    *channel.Subscription
	sendMu sync.Mutex
}

// NewGateway creates a Gateway and subscribes it to the channel's inbound
// frames. Frames queue until Run starts.
func NewGateway(opts GatewayOpts) (*Gateway, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("chat: channel is required")
	}
	if opts.Selection == nil {
		return nil, fmt.Errorf("chat: selection is required")
	}
	if opts.Messages == nil {
		return nil, fmt.Errorf("chat: message store is required")
	}
	index := opts.ValidationIndex
	if index == "" {
		index = defaultValidationIndex
	}
	buf := opts.InboundBuffer
	if buf <= 0 {
		buf = defaultInboundBuffer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		ch:         opts.Channel,
		sel:        opts.Selection,
		msgs:       opts.Messages,
		compressor: opts.Compressor,
		tokens:     opts.Tokens,
		delay:      opts.PlaceholderDelay,
		index:      index,
		logger:     logging.OrNop(opts.Logger).With(zap.String("component", "gateway")),
		now:        now,
		sub:        opts.Channel.Subscribe(buf),
	}, nil
}

// Envelope builds an outbound envelope for body against the current work
// order.
func (g *Gateway) Envelope(ctx context.Context, body string) OutboundEnvelope {
	env := OutboundEnvelope{
		ID:             uuid.NewString(),
		ConversationID: NoConversation,
		Message:        body,
		SentAt:         models.EpochSeconds(g.now()),
		Index:          g.index,
		Citations:      []models.Citation{},
	}
	if cur, ok := g.sel.Current(); ok {
		if cur.ConversationID != "" {
			env.ConversationID = cur.ConversationID
		}
		if cur.MachineID != "" {
			env.Index = cur.MachineID
		}
	}
	if g.tokens != nil {
		env.AuthToken = g.tokens.Token(ctx)
	}
	return env
}

// Send writes a message onto the channel and appends the user's copy to the
// store. When image is non-nil it is compressed and sent as the body instead.
// Send fails fast with ErrNotConnected if the channel is not open; nothing is
// queued or retried.
func (g *Gateway) Send(ctx context.Context, body string, image io.Reader) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	h := g.ch.Handle()
	if !h.Open() {
		return ErrNotConnected
	}
	env := g.Envelope(ctx, body)

	if image != nil {
		uri, err := g.compress(ctx, image)
		if err != nil {
			g.msgs.ClearPlaceholder()
			return fmt.Errorf("chat: compress image: %w", err)
		}
		env.Message = uri
		env.IsImage = true

		// The channel may have been replaced while compressing.
		if h = g.ch.Handle(); !h.Open() {
			g.msgs.ClearPlaceholder()
			return ErrNotConnected
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		g.msgs.ClearPlaceholder()
		return fmt.Errorf("chat: encode envelope: %w", err)
	}
	if err := h.Write(data); err != nil {
		if image != nil {
			g.msgs.ClearPlaceholder()
		}
		if errors.Is(err, channel.ErrNotOpen) {
			return ErrNotConnected
		}
		return fmt.Errorf("chat: send: %w", err)
	}
	g.msgs.Append(env.LocalCopy())
	if image != nil {
		g.msgs.SetProcessingImage(false)
	}
	g.logger.Debug("message sent",
		zap.String("conversation", env.ConversationID),
		zap.String("id", env.ID),
		zap.Bool("image", env.IsImage))
	return nil
}

// compress runs the image pipeline. The placeholder is shown only if
// compression is still running after the delay.
func (g *Gateway) compress(ctx context.Context, r io.Reader) (string, error) {
	if g.compressor == nil {
		return "", fmt.Errorf("no image compressor configured")
	}
	g.msgs.SetProcessingImage(true)

	var mu sync.Mutex
	finished := false
	timer := time.AfterFunc(g.delay, func() {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			g.msgs.AppendPlaceholder()
		}
	})
	uri, err := g.compressor.Compress(ctx, r)
	mu.Lock()
	finished = true
	mu.Unlock()
	timer.Stop()
	return uri, err
}

// Run drains inbound frames into the store until ctx is done or the channel
// manager closes.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-g.sub.C():
			if !ok {
				return nil
			}
			g.Dispatch(frame)
		}
	}
}

// Dispatch applies one inbound frame. Malformed frames are logged and
// dropped; frames for another conversation are dropped silently.
func (g *Gateway) Dispatch(frame []byte) {
	env, err := ParseInbound(frame)
	if err != nil {
		g.logger.Warn("dropping inbound frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	cur, ok := g.sel.Current()
	if !ok || string(env.ConversationID) != cur.ConversationID {
		g.logger.Debug("dropping message for another conversation",
			zap.String("conversation", string(env.ConversationID)))
		return
	}
	g.msgs.Append(env.Message())
}

// IsBusy reports whether composing must be disabled: no channel, channel not
// open, no work order selected, the work order is completed, or history is
// loading.
func (g *Gateway) IsBusy() bool {
	h := g.ch.Handle()
	if h == nil || !h.Open() {
		return true
	}
	cur, ok := g.sel.Current()
	if !ok || cur.Completed() {
		return true
	}
	return g.msgs.Busy()
}
