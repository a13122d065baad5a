package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner blocks until its context ends, then drains exactly once.
type LifecycleRunner struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration
	banner  bool
	logger  *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		banner:  true,
		logger:  slog.Default(),
	}
}

// DisableBanner skips the startup banner.
func (r *LifecycleRunner) DisableBanner() { r.banner = false }

// SetLogger replaces the logger used for state transitions.
func (r *LifecycleRunner) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.transition(StateNew, StateStarting) {
		return fmt.Errorf("runner: cannot start from state %s", r.State())
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.banner {
		PrintBanner()
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	if !r.transition(StateStarting, StateRunning) {
		// Stop won the race while start hooks ran.
		return r.shutdown()
	}
	<-ctx.Done()
	return r.shutdown()
}

// Stop cancels a running Run and drains. It is safe to call more than once
// and before Run.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.shutdown()
}

func (r *LifecycleRunner) State() State { return State(r.state.Load()) }

func (r *LifecycleRunner) shutdown() error {
	r.stopOnce.Do(func() {
		r.set(StateDraining)
		r.stopErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop(r.stopErr)
		}
		r.set(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- r.drainer.Drain() }()
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrDrainTimeout
	}
}

func (r *LifecycleRunner) transition(from, to State) bool {
	if !r.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	r.logger.Debug("runner_state", slog.String("from", from.String()), slog.String("to", to.String()))
	return true
}

func (r *LifecycleRunner) set(to State) {
	from := State(r.state.Swap(int32(to)))
	r.logger.Debug("runner_state", slog.String("from", from.String()), slog.String("to", to.String()))
}
