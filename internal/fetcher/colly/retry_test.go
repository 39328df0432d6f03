package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 10*time.Millisecond, 100*time.Millisecond)
	assert.Equal(t, 3, p.MaxAttempts())

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 1, want: false},
		{name: "server error", err: &StatusError{Code: http.StatusBadGateway}, attempt: 1, want: true},
		{name: "throttled", err: fmt.Errorf("wrap: %w", &StatusError{Code: http.StatusTooManyRequests}), attempt: 2, want: true},
		{name: "client error", err: &StatusError{Code: http.StatusForbidden}, attempt: 1, want: false},
		{name: "network error", err: errors.New("connection reset"), attempt: 1, want: true},
		{name: "deadline", err: context.DeadlineExceeded, attempt: 1, want: true},
		{name: "canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "robots", err: colly.ErrRobotsTxtBlocked, attempt: 1, want: false},
		{name: "attempts exhausted", err: &StatusError{Code: http.StatusBadGateway}, attempt: 3, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestNewExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(-1, 0, 0)
	assert.Equal(t, 1, p.MaxAttempts())
	assert.Equal(t, 250*time.Millisecond, p.baseDelay)
	assert.Equal(t, 5*time.Second, p.maxDelay)
}

func TestSleepWithContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepWithContext(ctx, time.Second), context.Canceled)
	assert.NoError(t, sleepWithContext(context.Background(), 0))
}
