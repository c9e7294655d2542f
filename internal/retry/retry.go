// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrStop marks an error that must not be retried. Wrap it to end the loop
// early; Do returns the wrapping error unchanged.
var ErrStop = errors.New("retry: permanent failure")

// Policy is the number of extra attempts after the first, and the wait
// between attempts.
type Policy struct {
	Retries int
	Delay   time.Duration
}

// Do calls fn until it succeeds, returns an error wrapping ErrStop, the
// policy is exhausted, or ctx is done. attempt is 0-based. The last error fn
// returned is the one reported.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrStop) || ctx.Err() != nil {
			return lastErr
		}
		if attempt < p.Retries && p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return lastErr
			case <-t.C:
			}
		}
	}
	return lastErr
}
