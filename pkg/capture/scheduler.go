package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start while a loop is active.
var ErrAlreadyRunning = errors.New("capture loop already running")

// RunFunc performs one scheduled capture. ctx is cancelled once Stop is
// called; an attempt that has already begun is expected to finish.
type RunFunc func(ctx context.Context) error

// Scheduler runs a RunFunc on one background worker, sleeping Interval
// between attempts. The period is therefore interval plus session time.
type Scheduler struct {
	run   RunFunc
	grace time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration

	wg sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. grace bounds how long Stop
// waits for the worker.
func NewScheduler(run RunFunc, grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = DefaultConfig().StopGrace
	}
	return &Scheduler{run: run, grace: grace}
}

// Start spawns the worker. The first attempt runs immediately.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid capture interval %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.interval = interval

	s.wg.Add(1)
	go s.loop(ctx, interval, done)

	slog.Info("Capture loop started", "interval", interval)
	return nil
}

// Stop asks the worker to exit and waits up to the grace period. It
// reports whether the worker was seen to exit; a session in flight is
// allowed to finish on its own. Stopping a stopped scheduler returns true.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.interval = 0
	s.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-done:
		slog.Info("Capture loop stopped")
		return true
	case <-timer.C:
		slog.Warn("Capture loop still busy after stop, leaving it to finish", "grace", s.grace)
		return false
	}
}

// Wait blocks until every worker started so far has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running reports whether a loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval returns the active interval, or 0 when stopped.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		s.runOnce(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runOnce keeps a failing or panicking attempt from ending the loop.
func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled capture panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := s.run(ctx); err != nil {
		slog.Error("Scheduled capture failed", "error", err)
	}
}
