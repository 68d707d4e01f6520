package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/fieldchat/internal/models"
)

// ErrUnknownEnvelope is returned for inbound frames that are not chat
// messages.
var ErrUnknownEnvelope = errors.New("chat: unknown envelope")

const (
	// NoConversation is sent when no work order is bound.
	NoConversation = "-1"

	envelopeTypeMessage = "message"
)

// OutboundEnvelope is what the client writes onto the channel.
type OutboundEnvelope struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Message        string            `json:"message"`
	SentAt         float64           `json:"sentAt"`
	AuthToken      string            `json:"authToken,omitempty"`
	Index          string            `json:"index"`
	IsImage        bool              `json:"isImage"`
	Citations      []models.Citation `json:"citations"`
}

// LocalCopy is the optimistic store entry for an envelope the user sent.
func (e OutboundEnvelope) LocalCopy() models.Message {
	return models.Message{
		ID:        e.ID,
		Sender:    models.RoleUser,
		Body:      e.Message,
		SentAt:    e.SentAt,
		Citations: []models.Citation{},
		IsImage:   e.IsImage,
	}
}

// InboundEnvelope is a bot message received from the channel.
type InboundEnvelope struct {
	Body           string                `json:"body"`
	ConversationID models.ConversationID `json:"conversationId"`
	SentAt         float64               `json:"sentAt"` // milliseconds
	Citations      []models.Citation     `json:"citations"`
	Type           string                `json:"type"`
}

// Message converts the envelope into a store entry from the bot.
func (e InboundEnvelope) Message() models.Message {
	cites := e.Citations
	if cites == nil {
		cites = []models.Citation{}
	}
	return models.Message{
		ID:        uuid.NewString(),
		Sender:    models.RoleBot,
		Body:      e.Body,
		SentAt:    e.SentAt / 1000,
		Citations: cites,
		IsImage:   strings.HasPrefix(e.Body, "data:image/"),
	}
}

// ParseInbound decodes a channel frame. The backend double-encodes: the
// frame is a JSON string whose contents are the envelope object. A bare
// object is accepted too.
func ParseInbound(frame []byte) (InboundEnvelope, error) {
	var env InboundEnvelope
	payload := []byte(strings.TrimSpace(string(frame)))
	if len(payload) == 0 {
		return env, fmt.Errorf("%w: empty frame", ErrUnknownEnvelope)
	}
	if payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return env, fmt.Errorf("chat: decode frame: %w", err)
		}
		payload = []byte(inner)
	}
	if len(payload) == 0 || payload[0] != '{' {
		return env, fmt.Errorf("%w: not an object", ErrUnknownEnvelope)
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, fmt.Errorf("chat: decode envelope: %w", err)
	}
	if env.Type != envelopeTypeMessage {
		return env, fmt.Errorf("%w: type %q", ErrUnknownEnvelope, env.Type)
	}
	if env.ConversationID == "" {
		return env, fmt.Errorf("%w: missing conversationId", ErrUnknownEnvelope)
	}
	return env, nil
}
