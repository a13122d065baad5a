package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	errs  []error
	calls int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return Response{}, err
		}
	}
	return Response{Text: "ok"}, nil
}

func TestRetryAdapterRetriesTransient(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{resilience.HTTPStatusError{Provider: "x", StatusCode: 500}}}
	a := NewRetryAdapter(inner, RetryConfig{BaseDelay: time.Millisecond})

	resp, err := a.Generate(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryAdapterGivesUpOnClientErrors(t *testing.T) {
	inner := &scriptedAdapter{errs: []error{resilience.HTTPStatusError{Provider: "x", StatusCode: 401}}}
	a := NewRetryAdapter(inner, RetryConfig{BaseDelay: time.Millisecond})

	_, err := a.Generate(context.Background(), Context{})
	require.Error(t, err)
	var status resilience.HTTPStatusError
	assert.True(t, errors.As(err, &status))
	assert.Equal(t, 1, inner.calls)
}

func TestCircuitBreakerAdapterDeniesWhenOpen(t *testing.T) {
	rl := resilience.RateLimitError{Provider: "scripted"}
	inner := &scriptedAdapter{errs: []error{rl}}
	obs := metrics.NewMemoryObserver()
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(1, time.Hour))
	a.SetObserver(obs)

	_, err := a.Generate(context.Background(), Context{})
	require.Error(t, err)
	_, err = a.Generate(context.Background(), Context{})
	require.Error(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, obs.Count(metrics.EventRateLimit))
	assert.Equal(t, 1, obs.Count(metrics.EventBreakerDenied))
	assert.Equal(t, 1, obs.Count(metrics.EventBreakerOpen))
}

func TestMessage(t *testing.T) {
	m := Message(RoleUser, "hi")
	assert.Equal(t, "user", m["role"])
	assert.Equal(t, "hi", m["content"])
}

func TestRetryAdapterReportsAttempts(t *testing.T) {
	fail := resilience.HTTPStatusError{Provider: "x", StatusCode: 502}
	inner := &scriptedAdapter{errs: []error{fail, fail}}
	a := NewRetryAdapter(inner, RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := a.Generate(context.Background(), Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 2, inner.calls)
}

func TestCircuitBreakerAdapterClosesAfterSuccess(t *testing.T) {
	inner := &scriptedAdapter{}
	obs := metrics.NewMemoryObserver()
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(1, time.Millisecond))
	a.SetObserver(obs)

	inner.errs = []error{resilience.RateLimitError{Provider: "scripted"}}
	_, err := a.Generate(context.Background(), Context{})
	require.Error(t, err)
	assert.Equal(t, errorsx.ReasonLLMRateLimit, errorsx.Reason(err))

	time.Sleep(5 * time.Millisecond)
	resp, err := a.Generate(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, obs.Count(metrics.EventBreakerClose))
}
