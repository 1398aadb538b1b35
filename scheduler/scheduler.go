// Package scheduler runs named periodic tasks such as the game clock and
// the arbiter supervisor's sync.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. ctx ends when the
// run times out or the scheduler stops.
type TaskFn func(ctx context.Context)

// Task is a periodic job.
type Task struct {
	Name  string
	Every time.Duration
	// Timeout bounds a single run; zero means Every.
	Timeout time.Duration
	Fn      TaskFn
}

// Stats counts what a task has done since it was registered.
type Stats struct {
	Runs    int64
	Panics  int64
	LastRun time.Time
	LastDur time.Duration
}

type running struct {
	stop  chan struct{}
	stats Stats
}

// Scheduler manages periodic tasks. Runs of one task never overlap; a tick
// that arrives during a run is dropped.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*running
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*running),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTicker registers fn to run every interval under name.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.Add(Task{Name: name, Every: interval, Fn: fn})
}

// Add registers a task, replacing any task of the same name. It is a no-op
// after Stop.
func (s *Scheduler) Add(task Task) {
	if task.Timeout <= 0 {
		task.Timeout = task.Every
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.tasks[task.Name]; ok {
		close(old.stop)
	}
	r := &running{stop: make(chan struct{})}
	s.tasks[task.Name] = r

	s.wg.Add(1)
	go s.loop(task, r)
	s.logger.Info("scheduler task registered",
		zap.String("name", task.Name),
		zap.Duration("interval", task.Every))
}

func (s *Scheduler) loop(task Task, r *running) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.run(task, r)
		case <-r.stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(task Task, r *running) {
	ctx, cancel := context.WithTimeout(s.ctx, task.Timeout)
	start := time.Now()
	panicked := false
	defer func() {
		cancel()
		if rec := recover(); rec != nil {
			panicked = true
			s.logger.Error("scheduler task panicked",
				zap.String("task", task.Name),
				zap.Any("recover", rec))
		}
		s.mu.Lock()
		r.stats.Runs++
		if panicked {
			r.stats.Panics++
		}
		r.stats.LastRun = start
		r.stats.LastDur = time.Since(start)
		s.mu.Unlock()
	}()
	task.Fn(ctx)
}

// Remove stops the named task. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.tasks[name]; ok {
		close(r.stop)
		delete(s.tasks, name)
	}
}

// Stop cancels every task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for name, r := range s.tasks {
		close(r.stop)
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ListTickers returns the names of all registered tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatsOf returns the counters of a registered task.
func (s *Scheduler) StatsOf(name string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[name]
	if !ok {
		return Stats{}, false
	}
	return r.stats, true
}
