package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError is a provider refusing work: an HTTP 429, or a local breaker
// that is still cooling down after several of them.
type RateLimitError struct {
	Provider string
	Message  string
	// CircuitOpen marks denials made locally without calling the provider.
	CircuitOpen bool
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.CircuitOpen {
		return e.Provider + ": circuit open"
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// IsCircuitOpen reports whether err is a local breaker denial.
func IsCircuitOpen(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl) && rl.CircuitOpen
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerHalfOpen lets exactly one probe through after the cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calling a provider after threshold consecutive rate
// limits and probes it again once cooldown has passed. Other failures do not
// count: a broken request is not a reason to stop calling.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time
	onChange  func(from, to BreakerState)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange registers fn to run after every transition, outside the lock.
func (c *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State reports the current state without consuming a half-open probe.
func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == BreakerOpen && c.cooledDown() {
		return BreakerHalfOpen
	}
	return c.state
}

// Allow reports whether a call may proceed. After the cooldown the first
// caller gets the probe; the rest wait for its outcome.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	switch c.state {
	case BreakerClosed:
		c.mu.Unlock()
		return true
	case BreakerOpen:
		if !c.cooledDown() {
			c.mu.Unlock()
			return false
		}
		c.transitionLocked(BreakerHalfOpen)
		return true
	default:
		c.mu.Unlock()
		return false
	}
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	if c.state == BreakerClosed {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(BreakerClosed)
}

func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	if !IsRateLimit(err) {
		if c.state == BreakerHalfOpen {
			// The probe got through without a rate limit.
			c.failures = 0
			c.transitionLocked(BreakerClosed)
			return
		}
		c.mu.Unlock()
		return
	}
	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.threshold {
		c.openedAt = c.now()
		if c.state != BreakerOpen {
			c.transitionLocked(BreakerOpen)
			return
		}
	}
	c.mu.Unlock()
}

// Execute runs fn unless the breaker denies it, recording the outcome.
func (c *CircuitBreaker) Execute(provider string, fn func() error) error {
	if !c.Allow() {
		return RateLimitError{Provider: provider, CircuitOpen: true}
	}
	if err := fn(); err != nil {
		c.OnError(err)
		return err
	}
	c.OnSuccess()
	return nil
}

func (c *CircuitBreaker) cooledDown() bool {
	return !c.now().Before(c.openedAt.Add(c.cooldown))
}

// transitionLocked moves to next, releases the lock and notifies.
func (c *CircuitBreaker) transitionLocked(next BreakerState) {
	prev := c.state
	c.state = next
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil && prev != next {
		fn(prev, next)
	}
}
