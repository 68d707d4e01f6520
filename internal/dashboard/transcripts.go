package dashboard

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fieldchat/internal/db"
	"github.com/zulandar/fieldchat/internal/models"
)

// TranscriptReader reads the local journal. *db.Journal implements it.
type TranscriptReader interface {
	Conversations(ctx context.Context) ([]db.ConversationSummary, error)
	Transcript(ctx context.Context, conversationID string) ([]models.Message, error)
}

func handleConversations(j TranscriptReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		convs, err := j.Conversations(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if convs == nil {
			convs = []db.ConversationSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}

func handleTranscript(j TranscriptReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := j.Transcript(c.Request.Context(), c.Param("conversation"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": renderMessages(msgs, c.Query("format"))})
	}
}
