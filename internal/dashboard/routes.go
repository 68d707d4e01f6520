package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fieldchat/internal/chat"
	"github.com/zulandar/fieldchat/internal/citation"
	"github.com/zulandar/fieldchat/internal/models"
	"github.com/zulandar/fieldchat/internal/notice"
	"github.com/zulandar/fieldchat/internal/session"
	"github.com/zulandar/fieldchat/internal/workorder"
	"go.uber.org/zap"
)

// maxImageBytes bounds uploaded images before compression.
const maxImageBytes = 20 << 20

// Session is the part of *session.Session the dashboard drives.
type Session interface {
	Snapshot() session.State
	Messages() []models.Message
	WorkOrders() []models.WorkOrder
	OpenWorkOrders() []models.WorkOrder
	ArchivedWorkOrders() []models.WorkOrder
	Notices() []notice.Notice
	Dismiss(text string) bool
	Send(ctx context.Context, body string, image io.Reader) error
	Select(ctx context.Context, orderID string) error
	MarkDone(ctx context.Context, orderID string) error
	MarkNotDone(ctx context.Context, orderID string) error
	Refresh(ctx context.Context) error
	Watch() (<-chan struct{}, func())
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, s Session, j TranscriptReader, logger *zap.Logger) {
	api := router.Group("/api")
	api.GET("/state", handleState(s))
	api.GET("/messages", handleMessages(s))
	api.POST("/messages", handleSend(s, logger))
	api.GET("/workorders", handleWorkOrders(s))
	api.POST("/workorders/:id/select", handleSelect(s))
	api.POST("/workorders/:id/done", handleToggle(s, true))
	api.DELETE("/workorders/:id/done", handleToggle(s, false))
	api.GET("/notices", handleNotices(s))
	api.DELETE("/notices", handleDismiss(s))
	api.POST("/refresh", handleRefresh(s))
	api.GET("/events", handleSSE(s))
	if j != nil {
		api.GET("/transcripts", handleConversations(j))
		api.GET("/transcripts/:conversation", handleTranscript(j))
	}
}

func handleState(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	}
}

// messageView is a message with its body rendered for display.
type messageView struct {
	models.Message
	Rendered string `json:"rendered,omitempty"`
}

// renderMessages renders citation markers for format "markdown" or "html";
// any other format leaves bodies as they are.
func renderMessages(msgs []models.Message, format string) []messageView {
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView{Message: m}
		if m.IsImage {
			continue
		}
		switch strings.ToLower(format) {
		case "markdown", "md":
			out[i].Rendered = citation.Render(m.Body, m.Citations, citation.Markdown)
		case "html":
			out[i].Rendered = citation.Render(m.Body, m.Citations, citation.HTML)
		}
	}
	return out
}

func handleMessages(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"messages": renderMessages(s.Messages(), c.Query("format")),
		})
	}
}

type sendRequest struct {
	Message string `json:"message" form:"message"`
}

func handleSend(s Session, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		var image io.Reader
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			if err := c.ShouldBind(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if fh, err := c.FormFile("image"); err == nil {
				if fh.Size > maxImageBytes {
					c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
					return
				}
				f, err := fh.Open()
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				defer f.Close()
				image = f
			}
		} else if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Message == "" && image == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message or image is required"})
			return
		}

		if err := s.Send(c.Request.Context(), req.Message, image); err != nil {
			if errors.Is(err, chat.ErrNotConnected) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			logger.Warn("dashboard send failed", zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	}
}

func handleWorkOrders(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		var orders []models.WorkOrder
		switch c.DefaultQuery("view", "all") {
		case "open":
			orders = s.OpenWorkOrders()
		case "archived":
			orders = s.ArchivedWorkOrders()
		case "all":
			orders = s.WorkOrders()
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "view must be open, archived or all"})
			return
		}
		if orders == nil {
			orders = []models.WorkOrder{}
		}
		c.JSON(http.StatusOK, gin.H{"workorders": orders})
	}
}

func handleSelect(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Select(c.Request.Context(), c.Param("id")); err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	}
}

func handleToggle(s Session, done bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var err error
		if done {
			err = s.MarkDone(c.Request.Context(), id)
		} else {
			err = s.MarkNotDone(c.Request.Context(), id)
		}
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": id, "resolved": models.StatusFor(done)})
	}
}

func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, workorder.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

func handleNotices(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"notices": s.Notices()})
	}
}

func handleDismiss(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		text := c.Query("text")
		if text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
			return
		}
		if !s.Dismiss(text) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such notice"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleRefresh(s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	}
}
