package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFrac randomizes each backoff by +/- this fraction.
	JitterFrac float64
}

// DefaultRetryConfig returns the standard backoff schedule: base 1s,
// doubling, +/-20% jitter, five attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFrac:     0.2,
	}
}

// Retryer retries transient failures with exponential backoff. Rate-limit
// errors sleep until the server-supplied reset instant when one is known.
type Retryer struct {
	config RetryConfig
	logger *slog.Logger
	// OnRateLimit, when set, is notified once per rate-limit wait so the
	// presentation layer can surface a notice.
	OnRateLimit func(wait time.Duration)
}

// NewRetryer creates a retryer with the given schedule.
func NewRetryer(config RetryConfig, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{config: config, logger: logger}
}

// Do runs fn, retrying per the schedule while the error stays retryable.
func (r *Retryer) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("operation succeeded after retry",
					"operation", operation,
					"attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		wait := r.jitter(backoff)
		if IsRateLimit(err) {
			if resetAt, ok := RateLimitReset(err); ok {
				wait = time.Until(resetAt)
				if wait < 0 {
					wait = 0
				}
			}
			if r.OnRateLimit != nil {
				r.OnRateLimit(wait)
			}
			r.logger.Warn("rate limited, waiting",
				"operation", operation,
				"attempt", attempt,
				"wait", wait)
		} else {
			r.logger.Info("transient error, backing off",
				"operation", operation,
				"attempt", attempt,
				"backoff", wait,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled during retry of %s: %w", operation, ctx.Err())
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * r.config.Multiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.config.MaxAttempts, lastErr)
}

// DoWithResult runs a value-returning fn through the retryer.
func DoWithResult[T any](ctx context.Context, r *Retryer, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, operation, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (r *Retryer) jitter(d time.Duration) time.Duration {
	if r.config.JitterFrac <= 0 {
		return d
	}
	// Uniform in [1-f, 1+f].
	f := 1 + r.config.JitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
