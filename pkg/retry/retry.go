// Package retry provides bounded retry policies for outbound calls.
// The notification dispatcher uses a fixed policy (N attempts, constant
// delay); Telegram and database calls may use exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"time"
)

// RetryableError indicates that an error is retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// PermanentError indicates that an error should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retry: gave up after " + strconv.Itoa(e.Attempts) + " attempts: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the number of attempts including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay after each attempt. 1.0 gives a fixed delay.
	Multiplier float64

	// JitterFactor adds randomness to delays (0.0 = none, 1.0 = full).
	JitterFactor float64

	// RetryIf decides whether an error is retried. If nil, every error
	// that is not Permanent is retried.
	RetryIf func(error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits between attempts. Tests replace it to avoid real sleeps.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the dispatcher policy: 3 attempts, 5s apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.0,
		Sleep:        SleepContext,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithFixedDelay uses the same delay between every attempt.
func WithFixedDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.InitialDelay = d
			c.MaxDelay = d
			c.Multiplier = 1.0
			c.JitterFactor = 0
		}
	}
}

// WithBackoff configures exponential backoff.
func WithBackoff(initial, max time.Duration, multiplier float64) Option {
	return func(c *Config) {
		if initial > 0 {
			c.InitialDelay = initial
		}
		if max > 0 {
			c.MaxDelay = max
		}
		if multiplier >= 1.0 {
			c.Multiplier = multiplier
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf sets a custom function to determine if an error should be retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets a callback function called before each retry.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// WithSleep replaces the wait function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		if fn != nil {
			c.Sleep = fn
		}
	}
}

// NoWait is a Sleep function that returns immediately unless ctx is done.
func NoWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Retrier runs operations under a retry policy.
type Retrier struct {
	config Config
}

// New creates a new Retrier with the given options.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// MaxAttempts returns the configured attempt budget.
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do executes the operation until it succeeds, fails permanently or the
// attempt budget is spent. Exhaustion is reported as *ExhaustedError.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return &ExhaustedError{Attempts: attempt - 1, Err: lastErr}
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}

		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.config.Sleep(ctx, delay); err != nil {
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		}
	}

	if IsRetryable(lastErr) {
		lastErr = errors.Unwrap(lastErr)
	}
	return &ExhaustedError{Attempts: r.config.MaxAttempts, Err: lastErr}
}

// calculateDelay returns the delay before attempt+1.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	base := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if base > float64(r.config.MaxDelay) {
		base = float64(r.config.MaxDelay)
	}

	if r.config.JitterFactor > 0 {
		base += base * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if base < 0 {
		base = 0
	}

	return time.Duration(base)
}

// Do is a convenience function that creates a Retrier and executes the operation.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// DoWithData is a helper for operations that return data.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// DispatchRetrier returns the fixed policy used for outbound notifications.
func DispatchRetrier(attempts int, delay time.Duration, opts ...Option) *Retrier {
	base := []Option{WithMaxAttempts(attempts), WithFixedDelay(delay)}
	return New(append(base, opts...)...)
}

// TelegramRetrier returns a backoff policy for Telegram API calls.
func TelegramRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(4),
		WithBackoff(200*time.Millisecond, 5*time.Second, 2.0),
		WithJitter(0.1),
	}
	return New(append(base, opts...)...)
}
