package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/scheduler"
	"go.uber.org/zap"
)

const syncTask = "arbiter-sync"

// Supervisor keeps one Run loop per running game.
type Supervisor struct {
	engine   *Engine
	sched    *scheduler.Scheduler
	interval time.Duration
	run      func(ctx context.Context, gameID string) error

	mu      sync.Mutex
	runners map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor creates a Supervisor that re-syncs every interval.
func NewSupervisor(engine *Engine, sched *scheduler.Scheduler, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Supervisor{
		engine:   engine,
		sched:    sched,
		interval: interval,
		runners:  make(map[string]context.CancelFunc),
		run:      engine.Run,
	}
}

// Start syncs once and then on the scheduler.
func (s *Supervisor) Start(ctx context.Context) {
	s.Sync(ctx)
	s.sched.AddTicker(syncTask, s.interval, func(ctx context.Context) { s.Sync(ctx) })
}

// Sync starts loops for running games and stops loops of the others.
// Loops outlive ctx; Stop ends them.
func (s *Supervisor) Sync(ctx context.Context) {
	var ids []string
	err := s.engine.db.WithContext(ctx).Model(&model.Game{}).
		Where("game_state = ?", model.GameStateRunning).
		Pluck("id", &ids).Error
	if err != nil {
		s.engine.logger.Error("arbiter sync failed", zap.Error(err))
		return
	}
	running := make(map[string]bool, len(ids))
	for _, id := range ids {
		running[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.runners {
		if !running[id] {
			cancel()
			delete(s.runners, id)
		}
	}
	for id := range running {
		if _, ok := s.runners[id]; ok {
			continue
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.runners[id] = cancel
		s.wg.Add(1)
		go func(gameID string) {
			defer s.wg.Done()
			err := s.run(runCtx, gameID)
			if err != nil {
				s.engine.logger.Error("arbiter run failed", zap.String("game_id", gameID), zap.Error(err))
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			// A cancelled loop was already removed, and maybe replaced, by
			// Sync or Stop. Otherwise the entry is ours and the next Sync
			// must restart it.
			if runCtx.Err() == nil {
				if err == nil {
					s.engine.logger.Warn("arbiter loop exited", zap.String("game_id", gameID))
				}
				delete(s.runners, gameID)
				cancel()
			}
		}(id)
	}
}

// Running reports whether a loop is active for the game.
func (s *Supervisor) Running(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[gameID]
	return ok
}

// Stop removes the ticker, stops every loop and waits for them.
func (s *Supervisor) Stop() {
	s.sched.Remove(syncTask)
	s.mu.Lock()
	for id, cancel := range s.runners {
		cancel()
		delete(s.runners, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
