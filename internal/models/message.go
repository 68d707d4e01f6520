package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// ParseRole maps the raw history discriminator onto a Role. Anything other
// than "bot" was authored on this side of the channel.
func ParseRole(raw string) Role {
	if raw == string(RoleBot) {
		return RoleBot
	}
	return RoleUser
}

// Citation points at a source document referenced by a bot answer.
type Citation struct {
	FilePath string `json:"filepath"`
}

// Message is a single entry in a conversation. Messages are immutable once
// appended to a store; display order is append order.
type Message struct {
	ID        string     `json:"id"`
	Sender    Role       `json:"username"`
	Body      string     `json:"message"`
	SentAt    float64    `json:"sentAt"` // seconds since epoch
	Citations []Citation `json:"citations"`
	IsImage   bool       `json:"isImage,omitempty"`
	AuthToken string     `json:"authToken,omitempty"`

	// Placeholder marks the transient "Processing image..." entry.
	Placeholder bool `json:"-"`
}

// SentTime converts SentAt to a time.Time.
func (m Message) SentTime() time.Time {
	sec := int64(m.SentAt)
	nsec := int64((m.SentAt - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// EpochSeconds returns t as fractional seconds, the unit Message.SentAt uses.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// ConversationID is the key binding a work order to its message stream. The
// backend emits it as either a JSON string or a JSON number.
type ConversationID string

// UnmarshalJSON accepts both string and numeric encodings.
func (c *ConversationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ConversationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	*c = ConversationID(n.String())
	return nil
}

// HistoricalMessage is one entry of the history endpoint's response.
type HistoricalMessage struct {
	Message        string         `json:"message"`
	ConversationID ConversationID `json:"conversationId"`
	SentAt         float64        `json:"sentAt"` // milliseconds
	IsImage        bool           `json:"isImage"`
	Index          string         `json:"index"`
	Sender         string         `json:"sender"`
	Citations      []Citation     `json:"citations"`
}

// TranscriptEntry is the journal row for a message appended to a
// conversation's store.
type TranscriptEntry struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	ConversationID string  `gorm:"size:64;not null;index:idx_conversation_seq"`
	Sequence       int     `gorm:"not null;index:idx_conversation_seq"`
	MessageID      string  `gorm:"size:64;not null"`
	Role           string  `gorm:"size:8;not null"`
	Body           string  `gorm:"type:mediumtext"`
	Citations      string  `gorm:"type:json"` // JSON array of file paths
	IsImage        bool    `gorm:"default:false"`
	SentAt         float64
	CreatedAt      time.Time
}
