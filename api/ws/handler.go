// Package ws is the WebSocket transport for player devices. A device submits
// requests and acknowledges replies over the socket and receives its unread
// replies and game clock changes as they happen.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/game/arbiter"
	"github.com/kasuganosora/escaperoom/server/game/lifecycle"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
)

var errInternal = errors.New("internal error")

// Handler is the Gin handler for GET /api/games/:id/ws. The route sits
// behind middleware.Auth with the player role.
type Handler struct {
	engine   *arbiter.Engine
	mb       *mailbox.Mailbox
	pubsub   cache.PubSub
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// An empty allowedOrigins slice permits all origins (development only).
func NewHandler(engine *arbiter.Engine, mb *mailbox.Mailbox, pubsub cache.PubSub, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{
		engine: engine,
		mb:     mb,
		pubsub: pubsub,
		router: NewRouter(logger),
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}

	h.router.On("login", h.submit(model.MsgLoginAttempt))
	h.router.On("purchase", h.submit(model.MsgPurchaseAttempt))
	h.router.On("deposit", h.submit(model.MsgDepositAttempt))
	h.router.On("withdraw", h.submit(model.MsgWithdrawAttempt))
	h.router.On("inventory", h.submit(model.MsgInventoryAttempt))
	h.router.On("ack", h.ack)
	return h
}

// ServeWS upgrades the connection and serves it until either side closes.
func (h *Handler) ServeWS(c *gin.Context) {
	gameID, playerID := c.Param("id"), mw.GetUserID(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxPacketSize)

	s := NewSession(gameID, playerID, conn, h.logger)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := h.startFeeds(ctx, s); err != nil {
		h.logger.Error("ws feed failed", zap.String("game_id", gameID), zap.Error(err))
		s.Close()
		return
	}
	h.logger.Info("player connected", zap.String("game_id", gameID), zap.String("player_id", playerID))
	h.readPump(ctx, s)
	h.logger.Info("player disconnected", zap.String("game_id", gameID), zap.String("player_id", playerID))
}

// startFeeds pushes the player's unread replies ("messages") and game
// changes ("game") until ctx ends.
func (h *Handler) startFeeds(ctx context.Context, s *Session) error {
	sets, err := h.mb.WatchPlayer(ctx, s.GameID, s.PlayerID)
	if err != nil {
		return err
	}
	games, unsub, err := h.pubsub.Subscribe(ctx, lifecycle.GameChannel(s.GameID))
	if err != nil {
		return err
	}
	go func() {
		defer unsub()
		for {
			select {
			case msgs, ok := <-sets:
				if !ok {
					return
				}
				if msgs == nil {
					msgs = []model.Message{}
				}
				s.Send("messages", 0, msgs)
			case msg, ok := <-games:
				if !ok {
					return
				}
				s.Send("game", 0, json.RawMessage(msg.Payload))
			case <-s.Done:
				return
			}
		}
	}()
	return nil
}

// readPump reads packets from the connection and dispatches them.
func (h *Handler) readPump(ctx context.Context, s *Session) {
	defer s.Close()

	s.setReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.setReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("player_id", s.PlayerID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.setReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

type submitted struct {
	MessageID   string            `json:"message_id"`
	MessageType model.MessageType `json:"message_type"`
}

// submit returns the handler writing a player request of type t.
func (h *Handler) submit(t model.MessageType) HandlerFunc {
	return func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req interface{}
		switch t {
		case model.MsgLoginAttempt:
			req = &model.LoginRequest{}
		case model.MsgPurchaseAttempt:
			req = &model.PurchaseRequest{}
		case model.MsgDepositAttempt, model.MsgWithdrawAttempt:
			req = &model.GoldRequest{}
		default:
			req = &model.InventoryRequest{}
		}
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: payload required", arbiter.ErrInvalidPayload)
		}
		if err := json.Unmarshal(payload, req); err != nil {
			return nil, fmt.Errorf("%w: %v", arbiter.ErrInvalidPayload, err)
		}
		msg, err := h.engine.Submit(ctx, s.GameID, s.PlayerID, t, req)
		if err != nil {
			return nil, h.clientError(err)
		}
		h.logger.Debug("ws request submitted",
			zap.String("message_id", msg.ID),
			zap.String("trace_id", TraceIDFromCtx(ctx)))
		return submitted{MessageID: msg.ID, MessageType: msg.MessageType}, nil
	}
}

type ackRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) ack(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
	var req ackRequest
	if err := json.Unmarshal(payload, &req); err != nil || len(req.IDs) == 0 {
		return nil, fmt.Errorf("%w: ids required", arbiter.ErrInvalidPayload)
	}
	if err := h.mb.Acknowledge(ctx, s.GameID, s.PlayerID, req.IDs); err != nil {
		return nil, h.clientError(err)
	}
	return nil, nil
}

// clientError keeps errors the player can act on and hides the rest.
func (h *Handler) clientError(err error) error {
	for _, known := range []error{
		store.ErrNotFound,
		arbiter.ErrInvalidPayload,
		arbiter.ErrNotAttempt,
		arbiter.ErrGameNotRunning,
		arbiter.ErrPlayerBanned,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	h.logger.Error("ws request failed", zap.Error(err))
	return errInternal
}
