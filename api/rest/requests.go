package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/game/arbiter"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/model"
	"go.uber.org/zap"
)

// RequestHandler moves requests between players and the admin.
type RequestHandler struct {
	engine *arbiter.Engine
	mb     *mailbox.Mailbox
	logger *zap.Logger
}

// NewRequestHandler creates a RequestHandler.
func NewRequestHandler(engine *arbiter.Engine, mb *mailbox.Mailbox, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{engine: engine, mb: mb, logger: logger}
}

// payloadFor returns an empty request payload for t.
func payloadFor(t model.MessageType) interface{} {
	switch t {
	case model.MsgLoginAttempt:
		return &model.LoginRequest{}
	case model.MsgPurchaseAttempt:
		return &model.PurchaseRequest{}
	case model.MsgDepositAttempt, model.MsgWithdrawAttempt:
		return &model.GoldRequest{}
	case model.MsgInventoryAttempt:
		return &model.InventoryRequest{}
	}
	return nil
}

// Submit returns the handler of POST /api/games/:id/requests/<kind> for the
// player request type t. The decision arrives later in the player mailbox.
func (h *RequestHandler) Submit(t model.MessageType) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := payloadFor(t)
		if payload == nil {
			fail(c, h.logger, arbiter.ErrNotAttempt)
			return
		}
		if err := c.ShouldBindJSON(payload); err != nil {
			badRequest(c, err)
			return
		}
		msg, err := h.engine.Submit(c.Request.Context(), c.Param("id"), mw.GetUserID(c), t, payload)
		if err != nil {
			fail(c, h.logger, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message_id": msg.ID, "message_type": msg.MessageType})
	}
}

// Pending handles GET /api/games/:id/requests.
func (h *RequestHandler) Pending(c *gin.Context) {
	msgs, err := h.mb.Pending(c.Request.Context(), currentGame(c).ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": msgs})
}

// Review handles GET /api/games/:id/requests/:mid/review.
func (h *RequestHandler) Review(c *gin.Context) {
	v, err := h.engine.Review(c.Request.Context(), currentGame(c).ID, c.Param("mid"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Resolve handles POST /api/games/:id/requests/:mid/resolve.
func (h *RequestHandler) Resolve(c *gin.Context) {
	var res arbiter.Resolution
	if err := c.ShouldBindJSON(&res); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.engine.Resolve(c.Request.Context(), currentGame(c).ID, c.Param("mid"), res)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Messages handles GET /api/games/:id/messages: the player's unread replies.
func (h *RequestHandler) Messages(c *gin.Context) {
	msgs, err := h.mb.ForPlayer(c.Request.Context(), c.Param("id"), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type ackRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// Acknowledge handles POST /api/games/:id/messages/ack. Only the player's
// own messages are affected.
func (h *RequestHandler) Acknowledge(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.mb.Acknowledge(c.Request.Context(), c.Param("id"), mw.GetUserID(c), req.IDs); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
