package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// HTTPStatusError is a non-2xx provider response.
type HTTPStatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// CheckResponse maps a provider response to RateLimitError, HTTPStatusError or nil.
// The body is consumed only on failure.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimitError{Provider: provider, Message: fmt.Sprintf("%s: rate limited: %s", provider, msg)}
	}
	return HTTPStatusError{Provider: provider, StatusCode: resp.StatusCode, Body: msg}
}

// IsTransient reports whether err is worth retrying: network failures and 5xx
// responses are, client errors and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRateLimit(err) {
		return false
	}
	var status HTTPStatusError
	if errors.As(err, &status) {
		return status.StatusCode >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
