package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"shroomdump/internal/services"
)

// Defaults used by DefaultOptions.
const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultBackoffFactor = 2.0
)

// Options configures Do.
type Options struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// OnRetry is called with the 1-based number of the failed attempt before
	// sleeping.
	OnRetry func(attempt int, err error)
	// ShouldRetry stops retrying early when it returns false. Defaults to
	// IsRetriable.
	ShouldRetry func(err error) bool
	// Sleep replaces SleepWithContext, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns three retries with 1s..30s doubling backoff.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    DefaultMaxRetries,
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
		BackoffFactor: DefaultBackoffFactor,
	}
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", services.ErrRetryExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is matches services.ErrRetryExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == services.ErrRetryExhausted }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, MaxRetries retries are spent, ShouldRetry
// rejects the error, or ctx is done.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 1
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetriable
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	delay := clamp(opts.InitialDelay, opts.MaxDelay)
	attempts := opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if !shouldRetry(err) {
			return zero, err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("retry aborted after %d attempts: %w (last error: %w)", attempt, sleepErr, lastErr)
		}
		delay = clamp(time.Duration(float64(delay)*opts.BackoffFactor), opts.MaxDelay)
	}
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Delays returns the sleep schedule Do would follow for opts.
func Delays(opts Options) []time.Duration {
	if opts.MaxRetries <= 0 {
		return nil
	}
	factor := opts.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	out := make([]time.Duration, 0, opts.MaxRetries)
	delay := clamp(opts.InitialDelay, opts.MaxDelay)
	for range opts.MaxRetries {
		out = append(out, delay)
		delay = clamp(time.Duration(float64(delay)*factor), opts.MaxDelay)
	}
	return out
}

func clamp(d, ceiling time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetriable reports whether err is worth another attempt. Errors marked
// Permanent, setup and config failures and caller cancellation are not;
// everything else is assumed transient.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	switch services.KindOf(err) {
	case services.KindSetup, services.KindConfig, services.KindFormat:
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{"no such host", "unsupported protocol scheme"} {
		if strings.Contains(message, token) {
			return false
		}
	}
	return true
}
