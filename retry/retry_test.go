package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithMaxAttempts(5))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	}, WithMaxAttempts(3))

	assert.Equal(t, 3, calls)
	var multi *MultiError
	require.ErrorAs(t, err, &multi)
	assert.Equal(t, 3, multi.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestDo_RetryIfStopsEarly(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	},
		WithMaxAttempts(5),
		WithRetryIf(func(err error, attempt int) bool { return false }),
	)
	assert.Equal(t, 1, calls)
	assert.Error(t, err)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error {
		return errors.New("never retried")
	}, WithMaxAttempts(3), WithBackoff(ConstantBackoff(time.Second)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	_ = Do(context.Background(), func(ctx context.Context) error {
		return errors.New("x")
	},
		WithMaxAttempts(3),
		WithOnRetry(func(attempt int, err error) { attempts = append(attempts, attempt) }),
	)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 300*time.Millisecond, b.Next(3))
	assert.Equal(t, time.Duration(0), b.Next(0))
}

func TestExponentialBackoff_MaxDelay(t *testing.T) {
	b := ExponentialBackoff(time.Second, WithMaxDelay(3*time.Second))
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 3*time.Second, b.Next(3))
	assert.Equal(t, 3*time.Second, b.Next(10))
}

func TestConstantBackoff_Jitter(t *testing.T) {
	b := ConstantBackoff(100*time.Millisecond, WithJitter(0.5))
	for i := 1; i <= 20; i++ {
		d := b.Next(i)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
