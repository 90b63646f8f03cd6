package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one run of a periodic job.
type Task func(context.Context) error

type scheduled struct {
	seq    uint64
	cancel context.CancelFunc
}

// Scheduler owns every periodic task of a process: session re-validation and
// letter list refreshes. Tasks are keyed by name; scheduling a name again
// replaces the running task.
type Scheduler struct {
	logger *zap.Logger

	mu     sync.Mutex
	tasks  map[string]scheduled
	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a scheduler whose tasks stop when ctx is done or Stop
// is called.
func NewScheduler(ctx context.Context, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]scheduled),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule runs task every interval until the returned func is called.
func (s *Scheduler) Schedule(name string, interval time.Duration, task Task) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[name]; ok {
		prev.cancel()
	}
	s.seq++
	seq := s.seq
	ctx, stop := context.WithCancel(s.ctx)
	s.tasks[name] = scheduled{seq: seq, cancel: stop}

	s.wg.Add(1)
	go s.run(ctx, name, interval, task)

	return func() {
		stop()
		s.mu.Lock()
		if current, ok := s.tasks[name]; ok && current.seq == seq {
			delete(s.tasks, name)
		}
		s.mu.Unlock()
	}
}

// Cancel stops the task registered under name, if any.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[name]; ok {
		task.cancel()
		delete(s.tasks, name)
	}
}

// Active reports whether a task is registered under name.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Stop cancels every task and waits for running ticks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.tasks = make(map[string]scheduled)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, task Task) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduled task failed", zap.String("task", name), zap.Error(err))
			}
		}
	}
}
