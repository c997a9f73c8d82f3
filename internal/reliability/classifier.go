package reliability

import (
	"context"
	"errors"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classification is a coarse label for an upstream failure, reported to
// clients alongside the error. Nothing in the request path retries on it.
type Classification struct {
	Code      string
	Retryable bool
}

// Classify labels err given the upstream HTTP status (0 when unknown).
func Classify(err error, status int) Classification {
	switch {
	case err == nil:
		return Classification{}
	case errors.Is(err, context.Canceled):
		return Classification{Code: "canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return Classification{Code: "timeout", Retryable: true}
	case status == 429:
		return Classification{Code: "rate_limited", Retryable: true}
	case status == 401 || status == 403:
		return Classification{Code: "unauthorized"}
	case status >= 400 && status < 500:
		return Classification{Code: "rejected"}
	case IsRetryableHTTPStatus(status):
		return Classification{Code: "upstream_unavailable", Retryable: true}
	default:
		return Classification{Code: "upstream_error"}
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

// Retry runs fn up to attempts times with exponential backoff between tries.
// It stops early when ctx is done.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(ExponentialBackoff(attempt, base, cap))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
