package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"
)

// JitterWindow is a closed range a random pre-request delay is drawn from.
type JitterWindow struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a uniformly random delay in [Min, Max].
func (w JitterWindow) Draw() time.Duration {
	if w.Max <= w.Min {
		return max(w.Min, 0)
	}
	return w.Min + randomDuration(w.Max-w.Min+1)
}

// RetryPolicy bounds how the fetch client retries transient failures and
// how long it waits before each request.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ListJitter   JitterWindow
	DetailJitter JitterWindow
}

// DefaultRetryPolicy mirrors the archive's tolerated request cadence.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		ListJitter:   JitterWindow{Min: 4 * time.Second, Max: 7 * time.Second},
		DetailJitter: JitterWindow{Min: 6 * time.Second, Max: 10 * time.Second},
	}
}

// ShouldRetry decides whether err after the given attempt (1-based) warrants
// another try. Server errors and transport failures are retried; blocks,
// client errors and cancellation are not.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, ErrBlocked) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

// Backoff returns the wait before the attempt following the given one.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomDuration(half)
}

func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
