// Package sse streams mailbox contents and game clock changes to browsers.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/game/lifecycle"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/model"
	"go.uber.org/zap"
)

const keepalive = 30 * time.Second

// Handler serves the SSE endpoints. Routes sit behind middleware.Auth, which
// accepts the token as the access_token query parameter.
type Handler struct {
	mb      *mailbox.Mailbox
	pubsub  cache.PubSub
	origins map[string]bool
	logger  *zap.Logger
}

// NewHandler creates a new SSE Handler. An empty allowedOrigins list allows
// every origin.
func NewHandler(mb *mailbox.Mailbox, pubsub cache.PubSub, allowedOrigins []string, logger *zap.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{mb: mb, pubsub: pubsub, origins: origins, logger: logger}
}

func (h *Handler) originAllowed(c *gin.Context) bool {
	origin := c.GetHeader("Origin")
	return len(h.origins) == 0 || origin == "" || h.origins[origin]
}

// AdminStream handles GET /api/games/:id/admin/stream. It sends the full
// pending request set as a "requests" event on every change.
func (h *Handler) AdminStream(c *gin.Context) {
	gameID := c.Param("id")
	h.serve(c, gameID, "requests", func(ctx context.Context) (<-chan []model.Message, error) {
		return h.mb.WatchPending(ctx, gameID)
	})
}

// PlayerStream handles GET /api/games/:id/stream. It sends the player's
// unread replies as a "messages" event on every change.
func (h *Handler) PlayerStream(c *gin.Context) {
	gameID, playerID := c.Param("id"), mw.GetUserID(c)
	h.serve(c, gameID, "messages", func(ctx context.Context) (<-chan []model.Message, error) {
		return h.mb.WatchPlayer(ctx, gameID, playerID)
	})
}

func (h *Handler) serve(c *gin.Context, gameID, event string, watch func(context.Context) (<-chan []model.Message, error)) {
	if !h.originAllowed(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	sets, err := watch(subCtx)
	if err != nil {
		h.logger.Error("sse watch failed", zap.String("game_id", gameID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	clock, unsub, err := h.pubsub.Subscribe(subCtx, lifecycle.GameChannel(gameID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("game_id", gameID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer unsub()

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case msgs, ok := <-sets:
			if !ok {
				return
			}
			if msgs == nil {
				msgs = []model.Message{}
			}
			data, err := json.Marshal(msgs)
			if err != nil {
				h.logger.Error("sse encode failed", zap.Error(err))
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
			c.Writer.Flush()

		case msg, ok := <-clock:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: game\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
