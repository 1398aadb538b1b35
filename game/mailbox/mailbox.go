// Package mailbox implements the two directed message channels of a game:
// the admin inbox (to_admin) and one inbox per player (to_player).
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAlreadyProcessed is returned when a message was claimed before.
var ErrAlreadyProcessed = errors.New("message already processed")

// AdminChannel is the pub/sub channel notified on new to_admin messages.
func AdminChannel(gameID string) string {
	return "mailbox:" + gameID + ":admin"
}

// PlayerChannel is the pub/sub channel notified on new messages for playerID.
func PlayerChannel(gameID, playerID string) string {
	return "mailbox:" + gameID + ":player:" + playerID
}

// ChannelFor returns the notification channel of the mailbox msg lives in.
func ChannelFor(msg *model.Message) string {
	if msg.Direction == model.DirectionToAdmin {
		return AdminChannel(msg.GameID)
	}
	return PlayerChannel(msg.GameID, msg.PlayerID)
}

// Mailbox stores messages and announces them over pub/sub.
type Mailbox struct {
	db     *gorm.DB
	ps     cache.PubSub
	logger *zap.Logger
}

// New creates a Mailbox.
func New(db *gorm.DB, ps cache.PubSub, logger *zap.Logger) *Mailbox {
	return &Mailbox{db: db, ps: ps, logger: logger}
}

// Write inserts msg using tx, which may be a transaction. Callers must call
// Notify after the transaction commits.
func (m *Mailbox) Write(ctx context.Context, tx *gorm.DB, msg *model.Message) error {
	if tx == nil {
		tx = m.db
	}
	msg.Processed = false
	if err := tx.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("write %s message: %w", msg.MessageType, err)
	}
	return nil
}

// Notify announces msg to the watchers of its mailbox. Failures are logged;
// watchers recover on the next notification because they re-query.
func (m *Mailbox) Notify(ctx context.Context, msg *model.Message) {
	if m.ps == nil {
		return
	}
	if err := m.ps.Publish(ctx, ChannelFor(msg), msg.ID); err != nil {
		m.logger.Warn("mailbox notify failed",
			zap.String("game_id", msg.GameID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// Send writes msg outside any transaction and notifies its watchers.
func (m *Mailbox) Send(ctx context.Context, msg *model.Message) error {
	if err := m.Write(ctx, nil, msg); err != nil {
		return err
	}
	m.Notify(ctx, msg)
	return nil
}

// Get loads one message of the game.
func (m *Mailbox) Get(ctx context.Context, gameID, id string) (*model.Message, error) {
	var msg model.Message
	err := m.db.WithContext(ctx).First(&msg, "id = ? AND game_id = ?", id, gameID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}
	return &msg, nil
}

// Claim flips processed false to true using tx. Exactly one caller wins;
// the others get ErrAlreadyProcessed.
func (m *Mailbox) Claim(ctx context.Context, tx *gorm.DB, id string) error {
	if tx == nil {
		tx = m.db
	}
	res := tx.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND processed = ?", id, false).
		Update("processed", true)
	if res.Error != nil {
		return fmt.Errorf("claim message %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

// Pending returns the unprocessed admin inbox of a game, oldest first.
func (m *Mailbox) Pending(ctx context.Context, gameID string) ([]model.Message, error) {
	var msgs []model.Message
	err := m.db.WithContext(ctx).
		Where("game_id = ? AND direction = ? AND processed = ?", gameID, model.DirectionToAdmin, false).
		Order("activity_time ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return msgs, nil
}

// ForPlayer returns the unprocessed messages addressed to a player, oldest first.
func (m *Mailbox) ForPlayer(ctx context.Context, gameID, playerID string) ([]model.Message, error) {
	var msgs []model.Message
	err := m.db.WithContext(ctx).
		Where("game_id = ? AND direction = ? AND player_id = ? AND processed = ?",
			gameID, model.DirectionToPlayer, playerID, false).
		Order("activity_time ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list player messages: %w", err)
	}
	return msgs, nil
}

// Acknowledge marks player messages as read. Only messages addressed to
// playerID are touched.
func (m *Mailbox) Acknowledge(ctx context.Context, gameID, playerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := m.db.WithContext(ctx).Model(&model.Message{}).
		Where("game_id = ? AND direction = ? AND player_id = ? AND id IN ?",
			gameID, model.DirectionToPlayer, playerID, ids).
		Update("processed", true).Error
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	return nil
}
