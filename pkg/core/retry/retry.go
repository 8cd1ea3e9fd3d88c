// Package retry provides a bounded poll-until utility with an explicit,
// testable policy: callers state how many attempts and how long between
// them, and inject the sleep function so tests run without real delays.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt allowed by the policy ran
// without the condition becoming true.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a polling loop.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// SleepFunc is the delay hook between attempts. time.Sleep in
// production, a recorder in tests.
type SleepFunc func(time.Duration)

// Poll invokes fn up to p.MaxAttempts times, sleeping p.Interval between
// attempts. fn returns (true, nil) when the awaited condition holds.
// A non-nil error from fn aborts the loop immediately; fn is expected to
// swallow transient errors itself and return (false, nil) to keep
// polling. Context cancellation also aborts.
func Poll(ctx context.Context, p Policy, sleep SleepFunc, fn func(attempt int) (bool, error)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: invalid policy: MaxAttempts %d", p.MaxAttempts)
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := fn(attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if attempt < p.MaxAttempts {
			sleep(p.Interval)
		}
	}
	return ErrExhausted
}
