package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of background work. Tasks receive the scheduler context which
// is cancelled on Stop.
type Task func(ctx context.Context)

// SchedulerConfig configures scheduler behaviour.
type SchedulerConfig struct {
	Logger *zap.Logger
}

// Scheduler runs tasks once as soon as possible or periodically with a fixed
// delay between executions. Panics inside tasks are recovered and logged so a
// misbehaving task never takes the scheduler down.
type Scheduler struct {
	name   string
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// Future tracks a single scheduled execution.
type Future struct {
	name string
	done chan struct{}
}

// Done reports whether the execution has completed.
func (f *Future) Done() bool {
	if f == nil {
		return true
	}
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the execution has completed.
func (f *Future) Wait() {
	if f == nil {
		return
	}
	<-f.done
}

// Periodic is the handle of a task scheduled with a fixed delay.
type Periodic struct {
	name    string
	trigger chan struct{}
}

// Trigger requests an immediate execution. Requests collapse while one is
// already pending.
func (p *Periodic) Trigger() {
	if p == nil {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// NewScheduler builds a scheduler.
func NewScheduler(name string, cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{name: name, logger: cfg.Logger}
}

// Start enables scheduling. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "scheduler", s.name)
}

// Stop cancels running tasks and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped", "scheduler", s.name)
}

// Schedule runs task once, as soon as possible, on its own goroutine.
func (s *Scheduler) Schedule(name string, task Task) (*Future, error) {
	ctx, err := s.acquire()
	if err != nil {
		return nil, err
	}
	future := &Future{name: name, done: make(chan struct{})}
	go func() {
		defer s.wg.Done()
		defer close(future.done)
		s.run(ctx, name, task)
	}()
	return future, nil
}

// ScheduleWithFixedDelay runs task after initialDelay and then again delay
// after each completed execution. Trigger on the returned handle short-cuts
// the current wait.
func (s *Scheduler) ScheduleWithFixedDelay(name string, initialDelay, delay time.Duration, task Task) (*Periodic, error) {
	if delay <= 0 {
		return nil, fmt.Errorf("scheduler %s: task %s needs a positive delay", s.name, name)
	}
	ctx, err := s.acquire()
	if err != nil {
		return nil, err
	}
	periodic := &Periodic{name: name, trigger: make(chan struct{}, 1)}
	go func() {
		defer s.wg.Done()
		wait := initialDelay
		for {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			case <-periodic.trigger:
				timer.Stop()
			}
			s.run(ctx, name, task)
			wait = delay
		}
	}()
	return periodic, nil
}

// acquire registers one goroutine with the wait group while holding mu, so
// Stop either sees it in wg.Wait or the caller sees the cancelled context.
// Callers must call s.wg.Done when the goroutine exits.
func (s *Scheduler) acquire() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, fmt.Errorf("scheduler %s not started", s.name)
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("scheduler %s stopped: %w", s.name, err)
	}
	s.wg.Add(1)
	return s.ctx, nil
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Sugar().Errorw("scheduled task panicked", "scheduler", s.name, "task", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(ctx)
}
