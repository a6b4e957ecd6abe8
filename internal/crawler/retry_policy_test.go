package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 1, want: false},
		{name: "service unavailable", err: &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, attempt: 1, want: true},
		{name: "bad gateway wrapped", err: fmt.Errorf("post: %w", &HTTPStatusError{StatusCode: http.StatusBadGateway}), attempt: 2, want: true},
		{name: "not found", err: &HTTPStatusError{StatusCode: http.StatusNotFound}, attempt: 1, want: false},
		{name: "blocked", err: ErrBlocked, attempt: 1, want: false},
		{name: "canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "transport failure", err: errors.New("connection reset by peer"), attempt: 1, want: true},
		{name: "attempts exhausted", err: &HTTPStatusError{StatusCode: http.StatusInternalServerError}, attempt: 5, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 4*time.Second)
	}
	assert.Zero(t, RetryPolicy{}.Backoff(3))
}

func TestJitterWindowDrawStaysInRange(t *testing.T) {
	t.Parallel()

	w := JitterWindow{Min: 4 * time.Second, Max: 7 * time.Second}
	for range 50 {
		d := w.Draw()
		assert.GreaterOrEqual(t, d, w.Min)
		assert.LessOrEqual(t, d, w.Max)
	}
	assert.Equal(t, time.Second, JitterWindow{Min: time.Second, Max: time.Second}.Draw())
	assert.Zero(t, JitterWindow{}.Draw())
}
