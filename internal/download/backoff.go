package download

import (
	"context"
	"time"
)

// Backoff computes the delay before a retry attempt. Delays double per
// attempt from Base up to Max. The function is pure so retry schedules can
// be tested without sleeping.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the engine defaults: 1s doubling up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before attempt n (1-based: Delay(1) is the wait
// after the first failure). Non-positive attempts yield zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Base <= 0 {
		return 0
	}
	// Shift saturates rather than overflowing for large attempt counts.
	if attempt > 30 {
		return b.Max
	}
	d := b.Base << uint(attempt-1)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// sleepFunc waits for d or until the context is cancelled. Injected into
// the fetcher so tests can use a fake clock.
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
