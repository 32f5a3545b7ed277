package retry

import (
	"context"
	"fmt"
	"time"

	"shroomdump/internal/services"
)

// TimeoutError is returned by WithTimeout when no timeout error is supplied.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// Is matches services.ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == services.ErrTimeout }

type outcome[T any] struct {
	value T
	err   error
}

// WithTimeout runs op and returns its result if it finishes within d.
// Otherwise it returns timeoutErr (or a *TimeoutError when nil) immediately.
// The abandoned op sees its context cancelled; its eventual result is
// discarded. d <= 0 disables the timer.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error), timeoutErr error) (T, error) {
	if d <= 0 {
		return op(ctx)
	}
	if timeoutErr == nil {
		timeoutErr = &TimeoutError{After: d}
	}

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome[T], 1)
	go func() {
		value, err := op(opCtx)
		done <- outcome[T]{value: value, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case res := <-done:
		cancel()
		return res.value, res.err
	case <-timer.C:
		cancel()
		return zero, timeoutErr
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}
