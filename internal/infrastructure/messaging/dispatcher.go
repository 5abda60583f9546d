package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antbot/course-bot/internal/domain/notification"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher implements notification.Sender on top of a Gateway.
// Each Send makes a bounded number of attempts with a fixed pause; a
// terminal failure is returned as *notification.DispatchError.
type Dispatcher struct {
	gateway notification.Gateway
	retrier *retry.Retrier
	logger  *slog.Logger

	wg      sync.WaitGroup
	sent    atomic.Int64
	failed  atomic.Int64
	retried atomic.Int64
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	Gateway notification.Gateway

	// MaxAttempts includes the first attempt (default 3).
	MaxAttempts int

	// RetryDelay is the pause between attempts (default 5s).
	RetryDelay time.Duration

	// Sleep replaces the wait between attempts; tests pass retry.NoWait.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}

	d := &Dispatcher{
		gateway: config.Gateway,
		logger:  config.Logger.With(logger.Component("dispatcher")),
	}

	opts := []retry.Option{
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.retried.Add(1)
			d.logger.Warn("send failed, retrying",
				"attempt", attempt,
				"delay", delay,
				logger.Err(err),
			)
		}),
	}
	if config.Sleep != nil {
		opts = append(opts, retry.WithSleep(config.Sleep))
	}
	d.retrier = retry.DispatchRetrier(config.MaxAttempts, config.RetryDelay, opts...)

	return d
}

// Send implements notification.Sender.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, msg notification.Message) error {
	if err := msg.Validate(); err != nil {
		d.failed.Add(1)
		return &notification.DispatchError{ChatID: chatID, Kind: msg.Kind, Err: err}
	}

	attempts := 0
	err := d.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		return d.gateway.Deliver(ctx, chatID, msg)
	})
	if err == nil {
		d.sent.Add(1)
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}

	d.failed.Add(1)
	dispatchErr := &notification.DispatchError{
		ChatID:   chatID,
		Kind:     msg.Kind,
		Attempts: attempts,
		Err:      err,
	}
	d.logger.Error("send failed",
		"chat_id", chatID,
		"kind", msg.Kind,
		"attempts", attempts,
		logger.Err(err),
	)
	return dispatchErr
}

// SendAsync sends in the background. The caller is not told about the
// outcome; failures are logged. Close waits for these sends.
func (d *Dispatcher) SendAsync(ctx context.Context, chatID int64, msg notification.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.Send(context.WithoutCancel(ctx), chatID, msg)
	}()
}

// Broadcast sends msg to every chat and returns the first error.
func (d *Dispatcher) Broadcast(ctx context.Context, chatIDs []int64, msg notification.Message) error {
	var first error
	for _, id := range chatIDs {
		if err := d.Send(ctx, id, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close waits for pending SendAsync calls.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Retried int64 `json:"retried"`
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Retried: d.retried.Load(),
	}
}
