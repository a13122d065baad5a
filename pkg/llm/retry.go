package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/callprobe/pkg/resilience"
)

type RetryConfig struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
}

func (cfg RetryConfig) policy() resilience.RetryPolicy {
	p := resilience.RetryPolicy{
		MaxRetries: cfg.MaxAttempts - 1,
		Backoff:    cfg.BaseDelay,
		MaxBackoff: cfg.MaxDelay,
		Jitter:     cfg.Jitter,
		Retryable:  cfg.IsRetryable,
	}
	if cfg.MaxAttempts <= 0 {
		p.MaxRetries = 2
	}
	if p.Backoff <= 0 {
		p.Backoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 2 * time.Second
	}
	if p.Retryable == nil {
		p.Retryable = resilience.IsTransient
	}
	return p
}

// RetryAdapter retries transient Generate failures of the wrapped adapter.
// Rate limits are not retried here; the circuit breaker owns them.
type RetryAdapter struct {
	inner  LLMAdapter
	policy resilience.RetryPolicy
}

func NewRetryAdapter(inner LLMAdapter, cfg RetryConfig) *RetryAdapter {
	return &RetryAdapter{inner: inner, policy: cfg.policy()}
}

func (a *RetryAdapter) Name() string { return a.inner.Name() }

func (a *RetryAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	var (
		resp     Response
		attempts int
	)
	err := a.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		var err error
		resp, err = a.inner.Generate(ctx, input)
		return err
	})
	if err != nil {
		if attempts > 1 {
			return Response{}, fmt.Errorf("%s: gave up after %d attempts: %w", a.Name(), attempts, err)
		}
		return Response{}, err
	}
	return resp, nil
}
