package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/game/catalog"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"go.uber.org/zap"
)

// PlayerHandler serves a player's own view of a game.
type PlayerHandler struct {
	cat    *catalog.Service
	logger *zap.Logger
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(cat *catalog.Service, logger *zap.Logger) *PlayerHandler {
	return &PlayerHandler{cat: cat, logger: logger}
}

type joinRequest struct {
	PlayerName string `json:"player_name" binding:"required,max=64"`
}

// Join handles POST /api/games/:id/join.
func (h *PlayerHandler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.cat.Join(c.Request.Context(), c.Param("id"), mw.GetUserID(c), req.PlayerName)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Logout handles POST /api/games/:id/logout.
func (h *PlayerHandler) Logout(c *gin.Context) {
	if err := h.cat.Logout(c.Request.Context(), c.Param("id"), mw.GetUserID(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me handles GET /api/games/:id/me.
func (h *PlayerHandler) Me(c *gin.Context) {
	view, err := h.cat.Me(c.Request.Context(), c.Param("id"), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Shop handles GET /api/games/:id/shop.
func (h *PlayerHandler) Shop(c *gin.Context) {
	items, err := h.cat.Shop(c.Request.Context(), c.Param("id"), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Purchases handles GET /api/games/:id/purchases.
func (h *PlayerHandler) Purchases(c *gin.Context) {
	recs, err := h.cat.Purchases(c.Request.Context(), c.Param("id"), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": recs})
}
