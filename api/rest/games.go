package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/game/lifecycle"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
)

const gameKey = "game"

// GameHandler handles game lifecycle endpoints for admins.
type GameHandler struct {
	games  *lifecycle.Service
	logger *zap.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(games *lifecycle.Service, logger *zap.Logger) *GameHandler {
	return &GameHandler{games: games, logger: logger}
}

// OwnGame loads the :id game and aborts with 404 unless the signed-in admin
// owns it.
func (h *GameHandler) OwnGame() gin.HandlerFunc {
	return func(c *gin.Context) {
		g, err := h.games.Get(c.Request.Context(), c.Param("id"))
		if err == nil && g.AdminID != mw.GetUserID(c) {
			err = fmt.Errorf("game %s: %w", c.Param("id"), store.ErrNotFound)
		}
		if err != nil {
			fail(c, h.logger, err)
			c.Abort()
			return
		}
		c.Set(gameKey, g)
		c.Next()
	}
}

func currentGame(c *gin.Context) *model.Game {
	if v, ok := c.Get(gameKey); ok {
		return v.(*model.Game)
	}
	return nil
}

type createGameRequest struct {
	Name       string `json:"name" binding:"max=64"`
	DurationMs int64  `json:"game_duration"`
}

// Create handles POST /api/games.
func (h *GameHandler) Create(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, err := h.games.Create(c.Request.Context(), mw.GetUserID(c), strings.TrimSpace(req.Name), req.DurationMs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

// List handles GET /api/games.
func (h *GameHandler) List(c *gin.Context) {
	games, err := h.games.List(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// Get handles GET /api/games/:id.
func (h *GameHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, currentGame(c))
}

type setStateRequest struct {
	State model.GameState `json:"game_state" binding:"required"`
}

// SetState handles POST /api/games/:id/state.
func (h *GameHandler) SetState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, err := h.games.SetState(c.Request.Context(), currentGame(c).ID, req.State, mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

type setDurationRequest struct {
	// Duration is milliseconds or an "HH:MM:SS" string.
	Duration json.RawMessage `json:"game_duration" binding:"required"`
}

// parseDuration accepts a JSON number of milliseconds or an HH:MM:SS string.
func parseDuration(raw json.RawMessage) (int64, error) {
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return ms, nil
	}
	var hms string
	if err := json.Unmarshal(raw, &hms); err != nil {
		return 0, lifecycle.ErrInvalidHms
	}
	return lifecycle.HmsToMs(hms)
}

// SetDuration handles PUT /api/games/:id/duration.
func (h *GameHandler) SetDuration(c *gin.Context) {
	var req setDurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ms, err := parseDuration(req.Duration)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	g, err := h.games.SetDuration(c.Request.Context(), currentGame(c).ID, ms, mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Clock handles GET /api/games/:id/clock. Players read it too.
func (h *GameHandler) Clock(c *gin.Context) {
	view, err := h.games.Clock(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
