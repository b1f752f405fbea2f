// Package scheduler runs named tasks on fixed intervals. Any timer, cron or
// job-queue trigger satisfies the same contract; this is the in-process
// ticker flavor used by cmd/worker.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic unit of work. Errors are logged, never retried
// synchronously; the next tick is the retry.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered tasks until its context is cancelled.
type Scheduler struct {
	tasks  []Task
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(t Task) {
	s.tasks = append(s.tasks, t)
}

// Start launches one goroutine per task. Each task fires once immediately,
// then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
		s.logger.Info("scheduled task started",
			zap.String("task", t.Name),
			zap.Duration("interval", t.Interval))
	}
}

// Wait blocks until all task loops have exited after context cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled task stopping", zap.String("task", t.Name))
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	if err := t.Run(ctx); err != nil {
		s.logger.Error("scheduled task failed", zap.String("task", t.Name), zap.Error(err))
	}
}
