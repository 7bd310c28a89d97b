package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrExhausted wraps the last error once all attempts are spent. An
// exhausted error is permanent even when the underlying failure was
// transient.
var ErrExhausted = errors.New("retry attempts exhausted")

// transientSignals are matched against the lowercased error text. They
// cover provider throttling (429, quota, resource exhausted) and the
// usual temporary outages (503, timeouts). Throttling is matched on
// compound phrases; bare "rate" or "limit" show up in too many
// permanent messages to be signals.
var transientSignals = []string{
	"rate limit",
	"rate_limit",
	"rate-limit",
	"too many requests",
	"quota",
	"503",
	"429",
	"timeout",
	"unavailable",
	"exhausted",
}

// Policy controls the attempt budget and the backoff curve. Delay for
// attempt n (0-based) is BaseDelay * Multiplier^n.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy mirrors the upstream callers: three attempts, one
// second base delay, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
	}
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// IsTransient reports whether err looks like a temporary failure worth
// another attempt. Exhausted errors are always permanent, everything
// else is classified by signal text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExhausted) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range transientSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its text.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Do runs op until it succeeds, fails permanently, or the attempt
// budget runs out. Permanent failures return immediately with the
// original error; exhaustion returns an error wrapping both
// ErrExhausted and the last failure.
func Do(ctx context.Context, policy Policy, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		wait := policy.delay(attempt)
		log.Warn().
			Str("operation", name).
			Int("attempt", attempt+1).
			Dur("delay", wait).
			Err(lastErr).
			Msg("transient failure, backing off")
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, name, policy.MaxAttempts, lastErr)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, name, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
