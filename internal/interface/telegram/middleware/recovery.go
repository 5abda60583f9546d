package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// A panicking handler must not stop the polling loop. The user gets a short
// apology, the log gets the stack.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace captures the stack of the panicking goroutine.
	EnableStackTrace bool

	// UserErrorMessage is the message sent to users when a panic occurs.
	UserErrorMessage string

	// MaxPanicsPerMinute bounds how many panics are logged in full.
	MaxPanicsPerMinute int

	// OnPanic is called for every logged panic.
	OnPanic func(ctx context.Context, info *PanicInfo)

	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
		UserErrorMessage: "😔 Что-то пошло не так.\n\n" +
			"Попробуйте ещё раз через несколько минут.",
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	Error      error
	StackTrace string
	UserID     int64
	Operation  string
	Timestamp  time.Time
}

// RecoveryMiddleware recovers from panics in update handlers.
type RecoveryMiddleware struct {
	config       RecoveryConfig
	logger       *slog.Logger
	panicCounter *panicRateLimiter
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UserErrorMessage == "" {
		config.UserErrorMessage = DefaultRecoveryConfig().UserErrorMessage
	}
	if config.MaxPanicsPerMinute <= 0 {
		config.MaxPanicsPerMinute = DefaultRecoveryConfig().MaxPanicsPerMinute
	}
	return &RecoveryMiddleware{
		config:       config,
		logger:       config.Logger,
		panicCounter: newPanicRateLimiter(config.MaxPanicsPerMinute),
	}
}

// RecoveryResult represents the result of running a handler.
type RecoveryResult struct {
	// Recovered indicates if a panic was recovered.
	Recovered bool

	// PanicInfo contains panic details (nil when the panic was not logged).
	PanicInfo *PanicInfo

	// UserMessage is the message to show to the user.
	UserMessage string

	// Err is the handler's own error when it returned normally.
	Err error
}

// RecoverWithHandler executes a handler and recovers from any panics.
func (m *RecoveryMiddleware) RecoverWithHandler(
	ctx context.Context,
	userID int64,
	operation string,
	handler func() error,
) (result RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = m.handlePanic(ctx, r, userID, operation)
		}
	}()

	return RecoveryResult{Err: handler()}
}

func (m *RecoveryMiddleware) handlePanic(ctx context.Context, panicValue any, userID int64, operation string) RecoveryResult {
	result := RecoveryResult{Recovered: true, UserMessage: m.config.UserErrorMessage}

	// A panic storm is logged once per minute budget.
	if !m.panicCounter.allow() {
		return result
	}

	info := &PanicInfo{
		Error:     toError(panicValue),
		UserID:    userID,
		Operation: operation,
		Timestamp: time.Now(),
	}
	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}

	m.logger.ErrorContext(ctx, "panic recovered",
		"user_id", userID,
		"operation", operation,
		logger.Err(info.Error),
		"stack", info.StackTrace,
	)

	if m.config.OnPanic != nil {
		m.config.OnPanic(ctx, info)
	}

	result.PanicInfo = info
	return result
}

// toError converts a panic value to an error.
func toError(panicValue any) error {
	switch v := panicValue.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type panicRateLimiter struct {
	mu        sync.Mutex
	count     int
	maxPerMin int
	window    time.Time
}

func newPanicRateLimiter(maxPerMin int) *panicRateLimiter {
	return &panicRateLimiter{
		maxPerMin: maxPerMin,
		window:    time.Now(),
	}
}

func (p *panicRateLimiter) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.window) > time.Minute {
		p.count = 0
		p.window = now
	}

	if p.count >= p.maxPerMin {
		return false
	}
	p.count++
	return true
}
