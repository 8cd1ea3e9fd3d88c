package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleep records requested delays instead of waiting.
type fakeSleep struct {
	delays []time.Duration
}

func (f *fakeSleep) sleep(d time.Duration) {
	f.delays = append(f.delays, d)
}

func TestPollSucceedsOnLaterAttempt(t *testing.T) {
	fs := &fakeSleep{}
	p := Policy{MaxAttempts: 5, Interval: 5 * time.Second}

	calls := 0
	err := Poll(context.Background(), p, fs.sleep, func(attempt int) (bool, error) {
		calls++
		assert.Equal(t, calls, attempt)
		return attempt == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Two sleeps of the configured interval, none after success.
	require.Len(t, fs.delays, 2)
	assert.Equal(t, 5*time.Second, fs.delays[0])
}

func TestPollExhausted(t *testing.T) {
	fs := &fakeSleep{}
	p := Policy{MaxAttempts: 4, Interval: time.Second}

	calls := 0
	err := Poll(context.Background(), p, fs.sleep, func(int) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, calls)
	// No sleep after the final attempt.
	assert.Len(t, fs.delays, 3)
}

func TestPollAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poll(context.Background(), Policy{MaxAttempts: 10, Interval: time.Second}, (&fakeSleep{}).sleep,
		func(int) (bool, error) {
			calls++
			return false, boom
		})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "a permanent error must stop polling immediately")
}

func TestPollHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Poll(ctx, Policy{MaxAttempts: 3, Interval: time.Second}, (&fakeSleep{}).sleep,
		func(int) (bool, error) {
			calls++
			return false, nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPollRejectsInvalidPolicy(t *testing.T) {
	err := Poll(context.Background(), Policy{MaxAttempts: 0}, nil, func(int) (bool, error) {
		t.Fatal("fn must not run under an invalid policy")
		return false, nil
	})
	assert.Error(t, err)
}
