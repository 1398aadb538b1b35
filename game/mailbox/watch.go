package mailbox

import (
	"context"

	"github.com/kasuganosora/escaperoom/server/model"
	"go.uber.org/zap"
)

// QueryFunc loads the current contents of a mailbox.
type QueryFunc func(ctx context.Context) ([]model.Message, error)

// Watch streams full result sets: the current contents first, then a fresh
// query after every notification on channel. A notification that arrives
// while the consumer is busy collapses into the next query. The returned
// channel closes when ctx is done.
func (m *Mailbox) Watch(ctx context.Context, channel string, query QueryFunc) (<-chan []model.Message, error) {
	notes, cancel, err := m.ps.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	out := make(chan []model.Message, 1)
	go func() {
		defer close(out)
		defer cancel()
		emit := func() bool {
			msgs, err := query(ctx)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("mailbox watch query failed", zap.String("channel", channel), zap.Error(err))
				}
				return ctx.Err() == nil
			}
			select {
			case out <- msgs:
			case <-ctx.Done():
				return false
			}
			return true
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notes:
				if !ok {
					return
				}
				drain(notes)
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

// WatchPending watches the admin inbox of a game.
func (m *Mailbox) WatchPending(ctx context.Context, gameID string) (<-chan []model.Message, error) {
	return m.Watch(ctx, AdminChannel(gameID), func(ctx context.Context) ([]model.Message, error) {
		return m.Pending(ctx, gameID)
	})
}

// WatchPlayer watches one player's inbox.
func (m *Mailbox) WatchPlayer(ctx context.Context, gameID, playerID string) (<-chan []model.Message, error) {
	return m.Watch(ctx, PlayerChannel(gameID, playerID), func(ctx context.Context) ([]model.Message, error) {
		return m.ForPlayer(ctx, gameID, playerID)
	})
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
