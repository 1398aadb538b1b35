// Package audit records the append-only game action log. Entries are queued
// and written in batches; Flush makes everything queued so far readable.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
	maxListLimit  = 500
)

// Entry holds one game action to be logged.
type Entry struct {
	GameID      string
	PlayerID    string
	CharacterID string
	Type        model.ActionType
	Details     interface{}
	TraceID     string
}

// Logger is what the game services need from the action log.
type Logger interface {
	Log(entry Entry)
}

// Service logs action entries asynchronously in batches.
type Service struct {
	db      *gorm.DB
	queue   chan *model.Action
	flushes chan chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	logger  *zap.Logger
}

// New creates a new audit Service and starts its writer.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:      db,
		queue:   make(chan *model.Action, queueSize),
		flushes: make(chan chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go svc.writer()
	return svc
}

func toAction(entry Entry, logger *zap.Logger) *model.Action {
	record := &model.Action{
		GameID:       entry.GameID,
		PlayerID:     entry.PlayerID,
		ActionType:   entry.Type,
		TraceID:      entry.TraceID,
		ActivityTime: time.Now(),
	}
	if entry.CharacterID != "" {
		cid := entry.CharacterID
		record.CharacterID = &cid
	}
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			logger.Warn("audit details not encodable",
				zap.String("action", string(entry.Type)), zap.Error(err))
		} else {
			record.ActionDetails = datatypes.JSON(b)
		}
	}
	return record
}

// Log queues an action. A full queue drops the entry rather than block the
// caller, which is usually inside a resolution.
func (svc *Service) Log(entry Entry) {
	select {
	case svc.queue <- toAction(entry, svc.logger):
	default:
		svc.dropped.Add(1)
		svc.logger.Warn("audit queue full, dropping entry",
			zap.String("action", string(entry.Type)),
			zap.String("game_id", entry.GameID))
	}
}

// Dropped returns how many entries were lost to a full queue.
func (svc *Service) Dropped() int64 {
	return svc.dropped.Load()
}

// Flush writes every entry queued before the call. After Stop it returns
// immediately.
func (svc *Service) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case svc.flushes <- ack:
	case <-svc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop writes the remaining entries and waits for the writer to exit.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stop) })
	<-svc.done
}

// List returns the newest actions of a game, up to limit.
func (svc *Service) List(ctx context.Context, gameID string, limit int) ([]model.Action, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 100
	}
	var actions []model.Action
	err := svc.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("activity_time DESC, id DESC").Limit(limit).Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

func (svc *Service) writer() {
	defer close(svc.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.Action, 0, batchSize)
	write := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}
	add := func(a *model.Action) {
		batch = append(batch, a)
		if len(batch) >= batchSize {
			write()
		}
	}
	drain := func() {
		for {
			select {
			case a := <-svc.queue:
				add(a)
			default:
				write()
				return
			}
		}
	}

	for {
		select {
		case a := <-svc.queue:
			add(a)
		case <-ticker.C:
			write()
		case ack := <-svc.flushes:
			drain()
			close(ack)
		case <-svc.stop:
			drain()
			return
		}
	}
}
