package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	p := Policy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Sleep:       noSleep,
		OnRetry:     func(attempt int, err error) { retried = append(retried, attempt) },
	}
	got, err := Run(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRunStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Run(context.Background(), Policy{MaxAttempts: 4, Backoff: time.Second, Sleep: noSleep}, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, boom)
}

func TestDoHonoursContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	}, 5, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoTreatsNonPositiveAttemptsAsOne(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
