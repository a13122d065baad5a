package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	rl := RateLimitError{Provider: "openai"}

	cb.OnError(errors.New("plain failure"))
	assert.True(t, cb.Allow())

	cb.OnError(rl)
	assert.True(t, cb.Allow())
	cb.OnError(rl)
	assert.False(t, cb.Allow())

	err := cb.Execute("openai", func() error { return nil })
	assert.True(t, IsRateLimit(err))

	cb.OnSuccess()
	assert.True(t, cb.Allow())
	assert.NoError(t, cb.Execute("openai", func() error { return nil }))
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }
	var transitions []string
	cb.OnStateChange(func(from, to BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	})
	rl := RateLimitError{Provider: "elevenlabs"}

	cb.OnError(rl)
	assert.Equal(t, BreakerOpen, cb.State())
	err := cb.Execute("elevenlabs", func() error { return nil })
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, "elevenlabs: circuit open", err.Error())

	now = now.Add(time.Minute)
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.Equal(t, BreakerHalfOpen, cb.State(), "State does not consume the probe")
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow(), "one probe at a time")

	cb.OnError(rl)
	assert.Equal(t, BreakerOpen, cb.State())

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute("elevenlabs", func() error { return nil }))
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>open", "open>half_open", "half_open>closed"}, transitions)
}

func TestCircuitBreakerProbeWithPlainError(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	cb.OnError(RateLimitError{})
	now = now.Add(time.Second)
	require.True(t, cb.Allow())
	cb.OnError(errors.New("bad request"))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond, Retryable: IsTransient}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return HTTPStatusError{Provider: "x", StatusCode: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyRetriesTransient(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond, Retryable: IsTransient}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return HTTPStatusError{Provider: "x", StatusCode: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxRetries: 5, Backoff: time.Hour}
	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCheckResponse(t *testing.T) {
	ok := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}
	assert.NoError(t, CheckResponse("p", ok))

	limited := &http.Response{StatusCode: 429, Body: io.NopCloser(strings.NewReader("slow down"))}
	assert.True(t, IsRateLimit(CheckResponse("p", limited)))

	failed := &http.Response{StatusCode: 502, Body: io.NopCloser(strings.NewReader("bad gateway"))}
	err := CheckResponse("p", failed)
	var status HTTPStatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, 502, status.StatusCode)
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(context.Canceled))
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := RetryPolicy{Backoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 250*time.Millisecond, p.delay(2))
	assert.Equal(t, 250*time.Millisecond, p.delay(40))

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.delay(0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
