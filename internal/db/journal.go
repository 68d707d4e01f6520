package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/fieldchat/internal/models"
	"gorm.io/gorm"
)

// Journal records conversation messages to the database.
type Journal struct {
	db *gorm.DB
}

// NewJournal wraps an open, migrated database.
func NewJournal(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("db: database is required")
	}
	return &Journal{db: db}, nil
}

// Record stores one appended message.
func (j *Journal) Record(ctx context.Context, conversationID string, seq int, m models.Message) error {
	paths := make([]string, 0, len(m.Citations))
	for _, c := range m.Citations {
		paths = append(paths, c.FilePath)
	}
	cites, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("db: marshal citations: %w", err)
	}
	entry := models.TranscriptEntry{
		ConversationID: conversationID,
		Sequence:       seq,
		MessageID:      m.ID,
		Role:           string(m.Sender),
		Body:           m.Body,
		Citations:      string(cites),
		IsImage:        m.IsImage,
		SentAt:         m.SentAt,
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("db: record message for %s: %w", conversationID, err)
	}
	return nil
}

// Transcript returns the recorded messages of a conversation in append
// order.
func (j *Journal) Transcript(ctx context.Context, conversationID string) ([]models.Message, error) {
	var rows []models.TranscriptEntry
	err := j.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sequence ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("db: transcript %s: %w", conversationID, err)
	}
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		var paths []string
		if r.Citations != "" {
			if err := json.Unmarshal([]byte(r.Citations), &paths); err != nil {
				return nil, fmt.Errorf("db: transcript %s: citations of row %d: %w", conversationID, r.ID, err)
			}
		}
		cites := make([]models.Citation, 0, len(paths))
		for _, p := range paths {
			cites = append(cites, models.Citation{FilePath: p})
		}
		out = append(out, models.Message{
			ID:        r.MessageID,
			Sender:    models.ParseRole(r.Role),
			Body:      r.Body,
			SentAt:    r.SentAt,
			Citations: cites,
			IsImage:   r.IsImage,
		})
	}
	return out, nil
}

// ConversationSummary counts the recorded messages of one conversation.
type ConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	Messages       int64  `json:"messages"`
}

// Conversations lists every conversation with recorded messages.
func (j *Journal) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out []ConversationSummary
	err := j.db.WithContext(ctx).
		Model(&models.TranscriptEntry{}).
		Select("conversation_id, COUNT(*) AS messages").
		Group("conversation_id").
		Order("conversation_id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("db: list conversations: %w", err)
	}
	return out, nil
}
