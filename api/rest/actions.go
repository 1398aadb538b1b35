package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/audit"
	"go.uber.org/zap"
)

// ActionHandler exposes the action log of a game.
type ActionHandler struct {
	audit  *audit.Service
	logger *zap.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(a *audit.Service, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{audit: a, logger: logger}
}

// List handles GET /api/games/:id/actions?limit=N, newest first.
func (h *ActionHandler) List(c *gin.Context) {
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	if err := h.audit.Flush(ctx); err != nil {
		h.logger.Warn("audit flush failed", zap.Error(err))
	}
	actions, err := h.audit.List(ctx, currentGame(c).ID, limit)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}
