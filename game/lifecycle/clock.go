package lifecycle

import (
	"context"
	"time"

	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/monitor"
	"github.com/kasuganosora/escaperoom/server/scheduler"
	"go.uber.org/zap"
)

const clockTask = "game-clock"

// Clock periodically ends games that ran out of time. With a shared cache,
// only one replica sweeps per tick.
type Clock struct {
	svc     *Service
	cache   cache.Cache
	sched   *scheduler.Scheduler
	tick    time.Duration
	metrics *monitor.Metrics
	logger  *zap.Logger
}

// NewClock creates a Clock. c may be nil for a single instance.
func NewClock(svc *Service, c cache.Cache, sched *scheduler.Scheduler, tick time.Duration, logger *zap.Logger) *Clock {
	if tick <= 0 {
		tick = time.Second
	}
	return &Clock{svc: svc, cache: c, sched: sched, tick: tick, logger: logger}
}

// WithMetrics counts the games the clock ends.
func (c *Clock) WithMetrics(m *monitor.Metrics) *Clock {
	c.metrics = m
	return c
}

// Start registers the clock ticker.
func (c *Clock) Start() {
	c.sched.AddTicker(clockTask, c.tick, c.Tick)
}

// Stop removes the clock ticker.
func (c *Clock) Stop() {
	c.sched.Remove(clockTask)
}

// Tick runs one sweep if this instance holds the lease for the current tick.
func (c *Clock) Tick(ctx context.Context) {
	if c.cache != nil {
		slot := c.svc.now().UnixNano() / int64(c.tick)
		ok, err := cache.AcquireLease(ctx, c.cache, clockTask, slot, 2*c.tick)
		if err != nil {
			c.logger.Warn("clock lease failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
	n, err := c.svc.EndExpired(ctx)
	if err != nil {
		c.logger.Error("clock sweep failed", zap.Error(err))
		return
	}
	c.metrics.ObserveGamesEnded(n)
	if n > 0 {
		c.logger.Info("games ended by clock", zap.Int("count", n))
	}
}
