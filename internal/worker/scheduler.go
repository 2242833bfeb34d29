package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one run of a periodic job. ctx is cancelled when the job is cancelled.
type Task func(ctx context.Context)

// Scheduler runs periodic tasks on tickers. Every job gets its own cancel
// function; Stop cancels all of them and waits for running tasks to return.
type Scheduler struct {
	logger  *zap.Logger
	ctx     context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{logger: logger.Named("worker"), ctx: ctx, stopAll: cancel}
}

// Every runs task each interval, first after one interval has passed.
// The returned cancel is idempotent and does not wait for a running task.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(s.ctx)
	if interval <= 0 {
		cancelCtx()
		s.logger.Warn("Refusing to schedule task with non-positive interval", zap.String("task", name))
		return func() {}
	}

	s.wg.Add(1)
	ticker := time.NewTicker(interval)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Worker stopped", zap.String("task", name))
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()

	s.logger.Debug("Worker started", zap.String("task", name), zap.Duration("interval", interval))
	return cancelCtx
}

// Stop cancels every job and waits for them to exit
func (s *Scheduler) Stop() {
	s.stopAll()
	s.wg.Wait()
}
