package wait_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lanternbot/ircbot/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleRetry() {
	attempts := 0
	err := wait.Retry(func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("not ready yet")
		}
		return nil
	}, wait.DefaultOptions().WithStrategy(wait.NewFixedStrategy(time.Millisecond)))

	fmt.Println(attempts, err)
	// Output: 3 <nil>
}

func TestReconnectStrategySequence(t *testing.T) {
	s := wait.NewReconnectStrategy()

	expected := []time.Duration{10, 20, 40, 80, 160, 320, 600, 600, 600}
	for n, want := range expected {
		got, ok := s.Next()
		require.True(t, ok)
		assert.Equal(t, want*time.Second, got, "retry %d", n+1)
	}

	s.Reset()
	got, _ := s.Next()
	assert.Equal(t, 10*time.Second, got)
}

func TestReconnectStrategyMatchesFormula(t *testing.T) {
	s := wait.NewReconnectStrategy()
	for n := 1; n <= 40; n++ {
		want := 10 * time.Second
		for i := 1; i < n && want < 600*time.Second; i++ {
			want *= 2
		}
		if want > 600*time.Second {
			want = 600 * time.Second
		}
		got, _ := s.Next()
		assert.Equal(t, want, got, "retry %d", n)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	s := wait.NewExponentialBackoffStrategy(100*time.Millisecond, 2.0, time.Second, true)
	for i := 0; i < 20; i++ {
		got, ok := s.Next()
		require.True(t, ok)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.LessOrEqual(t, got, 1250*time.Millisecond)
	}
}

func TestRetryNotify(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	calls := 0

	err := wait.Retry(func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("dial failed")
		}
		return nil
	}, wait.DefaultOptions().
		WithStrategy(wait.NewExponentialBackoffStrategy(time.Millisecond, 2.0, 3*time.Millisecond, false)).
		WithNotify(func(attempt int, err error, next time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, next)
			assert.EqualError(t, err, "dial failed")
		}))

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, delays)
}

func TestRetryMaxRetries(t *testing.T) {
	calls := 0
	err := wait.Retry(func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	}, wait.DefaultOptions().
		WithStrategy(wait.NewFixedStrategy(time.Millisecond)).
		WithMaxRetries(3))

	assert.ErrorIs(t, err, wait.ErrMaxRetriesReached)
	assert.ErrorContains(t, err, "nope")
	assert.Equal(t, 3, calls)
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := wait.Retry(func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("unreachable")
	}, wait.DefaultOptions().
		WithContext(ctx).
		WithStrategy(wait.NewFixedStrategy(time.Hour)))

	assert.ErrorIs(t, err, wait.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryTimeout(t *testing.T) {
	start := time.Now()
	err := wait.Retry(func(ctx context.Context) error {
		return errors.New("unreachable")
	}, wait.DefaultOptions().
		WithStrategy(wait.NewFixedStrategy(5*time.Millisecond)).
		WithTimeout(50*time.Millisecond))

	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryNilOptions(t *testing.T) {
	err := wait.Retry(func(ctx context.Context) error { return nil }, nil)
	assert.NoError(t, err)
}
