package ocr

import (
	"net/http"
	"time"
)

// RetryPolicy bounds how often and how slowly an unavailable extraction
// service is retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries twice starting at 200ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// ShouldRetry reports whether a response with status may be retried after
// attempt retries have already been made.
func (p RetryPolicy) ShouldRetry(status, attempt int) bool {
	return status == http.StatusServiceUnavailable && attempt < p.MaxRetries
}

// Delay returns the wait before the given retry (1-based):
// BaseDelay × 2^(retry−1), capped at MaxDelay.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
