// Package arbiter turns player requests in the admin mailbox into decisions.
// Logins are always resolved automatically; gold actions optionally; the rest
// wait for the admin. Every resolution claims its message, applies its
// mutations and writes the reply in one transaction.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	"github.com/kasuganosora/escaperoom/server/game/rules"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/monitor"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrAlreadyProcessed = mailbox.ErrAlreadyProcessed
	ErrGameNotRunning   = errors.New("game is not running")
	ErrPlayerBanned     = errors.New("player is banned")
	ErrNotAttempt       = errors.New("not a request message type")
	ErrInvalidPayload   = errors.New("invalid request payload")
	ErrInvalidDecision  = errors.New("invalid decision for this request")
)

// Decision is the admin's answer to a pending request.
type Decision string

const (
	Approve Decision = "approve"
	Decline Decision = "decline"
	// Ignore closes an inventory request without replying.
	Ignore Decision = "ignore"
)

// Resolution is an admin decision with an optional reason for declines.
type Resolution struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Outcome is what happened to a resolved message.
type Outcome struct {
	MessageID string            `json:"message_id"`
	Type      model.MessageType `json:"message_type"`
	// Status is approved, rejected, ignored or dropped.
	Status    string            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Reply     *model.Message    `json:"reply,omitempty"`
}

const (
	statusApproved = "approved"
	statusRejected = "rejected"
	statusIgnored  = "ignored"
	statusDropped  = "dropped"
)

// Options configures automatic behaviour.
type Options struct {
	Lockout         rules.LockoutPolicy
	AutoApproveGold bool
}

// Engine arbitrates the requests of all games.
type Engine struct {
	db      *gorm.DB
	mb      *mailbox.Mailbox
	actions audit.Logger
	metrics *monitor.Metrics
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

// New creates an Engine. actions and metrics may be nil.
func New(db *gorm.DB, mb *mailbox.Mailbox, actions audit.Logger, metrics *monitor.Metrics, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		mb:      mb,
		actions: actions,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// Submit validates and writes a player request to the admin mailbox.
func (e *Engine) Submit(ctx context.Context, gameID, playerID string, t model.MessageType, details interface{}) (*model.Message, error) {
	if !t.IsAttempt() {
		return nil, ErrNotAttempt
	}
	game, err := store.GetGame(ctx, e.db, gameID)
	if err != nil {
		return nil, err
	}
	if game.GameState != model.GameStateRunning {
		return nil, ErrGameNotRunning
	}
	player, err := store.GetPlayer(ctx, e.db, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if player.IsBanned {
		return nil, ErrPlayerBanned
	}

	raw, err := model.EncodeDetails(details)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	msg := &model.Message{
		ID:             uuid.NewString(),
		GameID:         gameID,
		PlayerID:       playerID,
		Direction:      model.DirectionToAdmin,
		MessageType:    t,
		MessageDetails: raw,
		ActivityTime:   e.now(),
	}
	req, err := decodeRequest(msg)
	if err != nil {
		return nil, err
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.mb.Write(ctx, tx, msg); err != nil {
			return err
		}
		if p, ok := req.(*model.PurchaseRequest); ok {
			return store.CreatePendingPurchase(ctx, tx, &model.PurchaseRecord{
				ID:             msg.ID,
				GameID:         gameID,
				CharacterID:    p.CharacterID,
				PlayerID:       playerID,
				RequestTime:    msg.ActivityTime,
				RequestedItems: datatypes.NewJSONType(p.Cart),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.mb.Notify(ctx, msg)
	e.metrics.ObserveSubmitted(string(t))
	e.logger.Debug("request submitted",
		zap.String("game_id", gameID),
		zap.String("player_id", playerID),
		zap.String("type", string(t)),
		zap.String("message_id", msg.ID))
	return msg, nil
}

// autoDecision returns the automatic decision for a message, if any.
func (e *Engine) autoDecision(t model.MessageType) (Resolution, bool) {
	switch t {
	case model.MsgLoginAttempt:
		return Resolution{Decision: Approve}, true
	case model.MsgDepositAttempt, model.MsgWithdrawAttempt:
		return Resolution{Decision: Approve}, e.opts.AutoApproveGold
	}
	return Resolution{}, false
}

// Pump resolves every pending message of a game that has an automatic
// decision, oldest first, and returns how many it resolved. Messages that
// another caller claimed first are skipped.
func (e *Engine) Pump(ctx context.Context, gameID string) (int, error) {
	pending, err := e.mb.Pending(ctx, gameID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		res, ok := e.autoDecision(pending[i].MessageType)
		if !ok {
			continue
		}
		if _, err := e.resolve(ctx, &pending[i], res); err != nil {
			if errors.Is(err, ErrAlreadyProcessed) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Resolve applies an admin decision to one pending message.
func (e *Engine) Resolve(ctx context.Context, gameID, messageID string, res Resolution) (*Outcome, error) {
	msg, err := e.mb.Get(ctx, gameID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != model.DirectionToAdmin || !msg.MessageType.IsAttempt() {
		return nil, ErrNotAttempt
	}
	if msg.Processed {
		return nil, ErrAlreadyProcessed
	}
	switch res.Decision {
	case Approve, Decline:
	case Ignore:
		if msg.MessageType != model.MsgInventoryAttempt {
			return nil, ErrInvalidDecision
		}
	default:
		return nil, ErrInvalidDecision
	}
	return e.resolve(ctx, msg, res)
}

// Run pumps a game's mailbox on every notification until ctx ends.
func (e *Engine) Run(ctx context.Context, gameID string) error {
	sets, err := e.mb.WatchPending(ctx, gameID)
	if err != nil {
		return err
	}
	for range sets {
		if _, err := e.Pump(ctx, gameID); err != nil && ctx.Err() == nil {
			e.logger.Error("arbiter pump failed", zap.String("game_id", gameID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, msg *model.Message, res Resolution) (*Outcome, error) {
	var (
		out     *Outcome
		entries []audit.Entry
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.mb.Claim(ctx, tx, msg.ID); err != nil {
			return err
		}
		p, err := e.evaluate(ctx, tx, msg, true)
		if err != nil {
			return err
		}
		out, entries, err = e.apply(ctx, tx, p, res)
		if err != nil {
			return err
		}
		if out.Reply != nil {
			return e.mb.Write(ctx, tx, out.Reply)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Reply != nil {
		e.mb.Notify(ctx, out.Reply)
	}
	if e.actions != nil {
		for _, entry := range entries {
			e.actions.Log(entry)
		}
	}
	e.metrics.ObserveResolution(string(msg.MessageType), out.Status, e.now().Sub(msg.ActivityTime))
	e.logger.Info("request resolved",
		zap.String("game_id", msg.GameID),
		zap.String("player_id", msg.PlayerID),
		zap.String("message_id", msg.ID),
		zap.String("type", string(msg.MessageType)),
		zap.String("status", out.Status),
		zap.String("reason", out.Reason))
	return out, nil
}

// reply builds the outgoing message for msg.
func reply(msg *model.Message, t model.MessageType, details interface{}) (*model.Message, error) {
	raw, err := model.EncodeDetails(details)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return &model.Message{
		GameID:         msg.GameID,
		PlayerID:       msg.PlayerID,
		Direction:      model.DirectionToPlayer,
		MessageType:    t,
		MessageDetails: raw,
	}, nil
}
