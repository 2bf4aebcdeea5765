package source

import (
	"context"
	"time"
)

// RetryPolicy bounds the downloads of a single part: one first attempt
// plus up to Retries more.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
}

// DefaultRetry retries a part three times, backing off 500ms, 1s and 2s.
var DefaultRetry = RetryPolicy{Retries: 3, BaseDelay: 500 * time.Millisecond}

// Attempts is the total number of downloads the policy allows.
func (p RetryPolicy) Attempts() int {
	return p.Retries + 1
}

// Backoff is the delay after the n-th failed attempt (0-based): the base
// delay doubled n times.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return p.BaseDelay << uint(n)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
