// Package resilience provides fault-tolerance primitives: exponential-backoff
// retry, a circuit breaker for optional dependencies, and a context-based
// timeout wrapper.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

// RetryConfig bounds a Retry. Zero fields take the defaults: 3 attempts,
// 100ms doubling up to 10s, ±10% jitter.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything except Permanent errors.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	if c.Retryable == nil {
		c.Retryable = func(err error) bool { return !Permanent(err) }
	}
	return c
}

// Permanent reports whether err cannot go away by trying again: the input
// is invalid or the target has been closed.
func Permanent(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrIllegalState)
}

// backoff yields the wait before each retry.
func (c RetryConfig) backoff() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		base := float64(c.InitialDelay)
		for range c.MaxAttempts - 1 {
			d := min(base, float64(c.MaxDelay))
			d += d * c.JitterFraction * (2*rand.Float64() - 1)
			if !yield(time.Duration(max(d, 0))) {
				return
			}
			base *= c.Multiplier
		}
	}
}

// Retry calls fn until it succeeds, returns an error Retryable rejects, or
// the attempts run out. The last error is wrapped in the result.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	err := fn()
	attempt := 1
	for delay := range cfg.backoff() {
		if err == nil || !cfg.Retryable(err) {
			break
		}
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"next_delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry aborted after %d attempts: %w", name, attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
		attempt++
		err = fn()
	}
	switch {
	case err == nil:
		if attempt > 1 {
			logger.Info("succeeded after retry", "attempt", attempt)
		}
		return nil
	case !cfg.Retryable(err):
		return err
	default:
		return fmt.Errorf("%s: all %d attempts failed: %w", name, attempt, err)
	}
}
