package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SystemActor is recorded as the actor of clock-driven changes.
const SystemActor = "system"

// GameChannel is the pub/sub channel announcing state and duration changes.
func GameChannel(gameID string) string {
	return "game:" + gameID
}

// ClockView is the clock of a game as shown to admins and players.
type ClockView struct {
	GameID      string          `json:"game_id"`
	State       model.GameState `json:"game_state"`
	DurationMs  int64           `json:"game_duration"`
	RemainingMs int64           `json:"remaining_ms"`
	Remaining   string          `json:"remaining"`
}

// Service persists games and their state changes.
type Service struct {
	db              *gorm.DB
	ps              cache.PubSub
	actions         audit.Logger
	logger          *zap.Logger
	defaultDuration int64
	now             func() time.Time
}

// NewService creates a Service. ps and actions may be nil.
func NewService(db *gorm.DB, ps cache.PubSub, actions audit.Logger, defaultDurationMs int64, logger *zap.Logger) *Service {
	if defaultDurationMs <= 0 {
		defaultDurationMs = model.DefaultGameDurationMs
	}
	return &Service{
		db:              db,
		ps:              ps,
		actions:         actions,
		logger:          logger,
		defaultDuration: defaultDurationMs,
		now:             time.Now,
	}
}

// Create starts a new game in setup.
func (s *Service) Create(ctx context.Context, adminID, name string, durationMs int64) (*model.Game, error) {
	if durationMs < 0 {
		return nil, ErrInvalidDuration
	}
	if durationMs == 0 {
		durationMs = s.defaultDuration
	}
	g := &model.Game{
		AdminID:      adminID,
		Name:         name,
		GameState:    model.GameStateSetup,
		GameDuration: durationMs,
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	return g, nil
}

// Get loads a game.
func (s *Service) Get(ctx context.Context, id string) (*model.Game, error) {
	return store.GetGame(ctx, s.db, id)
}

// List returns the games owned by an admin, newest first.
func (s *Service) List(ctx context.Context, adminID string) ([]model.Game, error) {
	var games []model.Game
	if err := s.db.WithContext(ctx).Where("admin_id = ?", adminID).
		Order("created_time DESC").Find(&games).Error; err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return games, nil
}

// SetState moves a game to target. Concurrent callers racing to the same
// target see exactly one state change and no error.
func (s *Service) SetState(ctx context.Context, gameID string, target model.GameState, actor string) (*model.Game, error) {
	if !target.Valid() {
		return nil, ErrInvalidState
	}
	g, err := store.GetGame(ctx, s.db, gameID)
	if err != nil {
		return nil, err
	}
	from := g.GameState
	changed, err := Transition(g, target, s.now())
	if err != nil || !changed {
		return g, err
	}

	res := s.db.WithContext(ctx).Model(&model.Game{}).
		Where("id = ? AND game_state = ?", gameID, from).
		Updates(map[string]interface{}{
			"game_state": g.GameState,
			"start_time": g.StartTime,
			"end_time":   g.EndTime,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update game state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone else moved the game first; re-evaluate from the stored state.
		current, err := store.GetGame(ctx, s.db, gameID)
		if err != nil {
			return nil, err
		}
		if _, err := Transition(current, target, s.now()); err != nil {
			return nil, err
		}
		if current.GameState != target {
			return s.SetState(ctx, gameID, target, actor)
		}
		return current, nil
	}

	s.logger.Info("game state changed",
		zap.String("game_id", gameID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor))
	s.record(gameID, actor, model.ActionGameState, map[string]interface{}{"from": from, "to": target})
	s.announce(ctx, g)
	return g, nil
}

// SetDuration updates the duration of a game that has not ended.
func (s *Service) SetDuration(ctx context.Context, gameID string, ms int64, actor string) (*model.Game, error) {
	g, err := store.GetGame(ctx, s.db, gameID)
	if err != nil {
		return nil, err
	}
	prev := g.GameDuration
	if err := SetDuration(g, ms); err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&model.Game{}).
		Where("id = ? AND game_state <> ?", gameID, model.GameStateEnd).
		Update("game_duration", ms)
	if res.Error != nil {
		return nil, fmt.Errorf("update game duration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the game ended meanwhile or the value was unchanged.
		current, err := store.GetGame(ctx, s.db, gameID)
		if err != nil {
			return nil, err
		}
		if current.GameState == model.GameStateEnd {
			return nil, ErrGameEnded
		}
	}
	s.record(gameID, actor, model.ActionGameDuration, map[string]int64{"from": prev, "to": ms})
	s.announce(ctx, g)
	return g, nil
}

// Clock returns the current clock of a game.
func (s *Service) Clock(ctx context.Context, gameID string) (*ClockView, error) {
	g, err := store.GetGame(ctx, s.db, gameID)
	if err != nil {
		return nil, err
	}
	view := s.clockOf(g)
	return &view, nil
}

func (s *Service) clockOf(g *model.Game) ClockView {
	left := Remaining(g, s.now()).Milliseconds()
	return ClockView{
		GameID:      g.ID,
		State:       g.GameState,
		DurationMs:  g.GameDuration,
		RemainingMs: left,
		Remaining:   MsToHms(left),
	}
}

// EndExpired ends every running game whose time is up and returns how many
// it ended.
func (s *Service) EndExpired(ctx context.Context) (int, error) {
	var running []model.Game
	if err := s.db.WithContext(ctx).Where("game_state = ?", model.GameStateRunning).
		Find(&running).Error; err != nil {
		return 0, fmt.Errorf("list running games: %w", err)
	}
	now := s.now()
	ended := 0
	for i := range running {
		if !Expired(&running[i], now) {
			continue
		}
		if _, err := s.SetState(ctx, running[i].ID, model.GameStateEnd, SystemActor); err != nil {
			s.logger.Warn("auto-end failed", zap.String("game_id", running[i].ID), zap.Error(err))
			continue
		}
		ended++
	}
	return ended, nil
}

func (s *Service) record(gameID, actor string, t model.ActionType, details interface{}) {
	if s.actions == nil {
		return
	}
	s.actions.Log(audit.Entry{GameID: gameID, PlayerID: actor, Type: t, Details: details})
}

func (s *Service) announce(ctx context.Context, g *model.Game) {
	if s.ps == nil {
		return
	}
	payload, err := json.Marshal(s.clockOf(g))
	if err != nil {
		return
	}
	if err := s.ps.Publish(ctx, GameChannel(g.ID), string(payload)); err != nil {
		s.logger.Warn("game announce failed", zap.String("game_id", g.ID), zap.Error(err))
	}
}
