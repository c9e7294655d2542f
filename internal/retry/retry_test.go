package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestDoSucceedsFirstTime(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Retries: 2, Delay: time.Millisecond}, func(context.Context, int) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsPolicy(t *testing.T) {
	var attempts []int
	start := time.Now()
	err := Do(context.Background(), Policy{Retries: 2, Delay: 10 * time.Millisecond}, func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return fmt.Errorf("attempt %d: %w", attempt, errBoom)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.EqualError(t, err, "attempt 2: boom")
	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDoRecoversOnRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Retries: 2}, func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Retries: 5}, func(context.Context, int) error {
		calls++
		return fmt.Errorf("bad url: %w", ErrStop)
	})
	assert.ErrorIs(t, err, ErrStop)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Retries: 5, Delay: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}
