package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy retries transient failures with doubling backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// MaxBackoff caps the doubled delay; zero leaves it uncapped.
	MaxBackoff time.Duration
	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
	// Retryable decides whether an error is worth another attempt. Nil retries
	// everything except context cancellation.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff, Retryable: IsTransient}
}

// Do calls fn until it succeeds, the error is not retryable, or retries run
// out. The last error is returned as is.
func (r RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= r.MaxRetries || !retryable(err) {
			return err
		}
		timer := time.NewTimer(r.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (r RetryPolicy) delay(attempt int) time.Duration {
	d := r.Backoff << attempt
	if d <= 0 || (r.MaxBackoff > 0 && d > r.MaxBackoff) {
		d = r.MaxBackoff
	}
	if r.Jitter > 0 {
		d += time.Duration(float64(d) * r.Jitter * rand.Float64())
	}
	return d
}
