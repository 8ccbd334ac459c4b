// Package reliability classifies provider failures so callers can decide
// between retrying, degrading, and giving up.
package reliability

import (
	"context"
	"errors"
	"net"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// IsRetryable reports whether a provider error is worth another attempt.
// Context cancellation is never retryable: it means the call moved on.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	return false
}

// Label renders the classification as a metric label value.
func Label(err error) string {
	if IsRetryable(err) {
		return "retryable"
	}
	return "fatal"
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
