package retryx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, Multiplier: 1}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(attempt int) error {
		calls++
		assert.Equal(t, 0, attempt)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("always fails")
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "must attempt exactly MaxAttempts times")
}

func TestDoRecoversMidway(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	fatal := errors.New("not recoverable")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(int) error {
		calls++
		return Permanent(fatal)
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastPolicy(3).Do(ctx, func(int) error {
		return errors.New("transient")
	})
	assert.Error(t, err)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(int) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}
