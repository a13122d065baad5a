package llm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/resilience"
)

// CircuitBreakerAdapter stops calling the wrapped adapter while the provider
// keeps answering with rate limits. Patient replies then fail fast instead of
// holding a turn cycle for the full request timeout.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
	obs     atomic.Pointer[metrics.Observer]
}

func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	a := &CircuitBreakerAdapter{inner: inner, breaker: breaker}
	breaker.OnStateChange(a.onTransition)
	return a
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

// SetObserver receives breaker transitions, denials and rate limits.
func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs.Store(&obs) }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	var resp Response
	err := a.breaker.Execute(a.Name(), func() error {
		var err error
		resp, err = a.inner.Generate(ctx, input)
		return err
	})
	switch {
	case err == nil:
		return resp, nil
	case resilience.IsCircuitOpen(err):
		a.record(metrics.EventBreakerDenied)
		return Response{}, errorsx.Wrap(err, errorsx.ReasonLLMCircuitOpen)
	case resilience.IsRateLimit(err):
		a.record(metrics.EventRateLimit)
		return Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
	default:
		return Response{}, err
	}
}

func (a *CircuitBreakerAdapter) onTransition(_, to resilience.BreakerState) {
	switch to {
	case resilience.BreakerOpen:
		a.record(metrics.EventBreakerOpen)
	case resilience.BreakerClosed:
		a.record(metrics.EventBreakerClose)
	}
}

func (a *CircuitBreakerAdapter) record(name string) {
	p := a.obs.Load()
	if p == nil || *p == nil {
		return
	}
	(*p).RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagProvider:  a.inner.Name(),
			metrics.TagComponent: "llm",
		},
	})
}
