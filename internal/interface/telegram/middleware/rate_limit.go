package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-user token buckets. Repeated violations lead to a temporary ban.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per user.
	RequestsPerMinute int

	// BurstSize is the bucket size.
	BurstSize int

	// CleanupInterval is how often idle users are forgotten.
	CleanupInterval time.Duration

	// BanDuration is how long a user is ignored after BanThreshold violations.
	BanDuration time.Duration

	// BanThreshold is the number of violations within ViolationWindow
	// that leads to a ban.
	BanThreshold    int
	ViolationWindow time.Duration

	// WhitelistedUsers are exempt (admins reviewing a queue click fast).
	WhitelistedUsers map[int64]bool

	// OnRateLimited returns the message to send to the user.
	OnRateLimited func(userID int64, retryAfter time.Duration) string

	// Now is the time source.
	Now func() time.Time
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      3,
		ViolationWindow:   5 * time.Minute,
		WhitelistedUsers:  make(map[int64]bool),
		OnRateLimited: func(_ int64, retryAfter time.Duration) string {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			if seconds < 60 {
				return fmt.Sprintf("⏳ Слишком много запросов!\n\nПодождите %d сек. и попробуйте снова.", seconds)
			}
			return fmt.Sprintf("⏳ Слишком много запросов!\n\nПодождите %d мин. и попробуйте снова.", seconds/60)
		},
		Now: time.Now,
	}
}

// RateLimiter implements per-user rate limiting.
type RateLimiter struct {
	config RateLimitConfig

	mu          sync.Mutex
	users       map[int64]*userLimit
	lastCleanup time.Time
}

type userLimit struct {
	limiter      *rate.Limiter
	lastSeen     time.Time
	violations   int
	lastViolated time.Time
	bannedUntil  time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.ViolationWindow <= 0 {
		config.ViolationWindow = defaults.ViolationWindow
	}
	if config.OnRateLimited == nil {
		config.OnRateLimited = defaults.OnRateLimited
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{
		config:      config,
		users:       make(map[int64]*userLimit),
		lastCleanup: config.Now(),
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	IsBanned   bool

	// ResponseMessage is the message to send if rate limited.
	ResponseMessage string
}

// Check checks if a request from the given user is allowed.
func (rl *RateLimiter) Check(_ context.Context, userID int64) RateLimitResult {
	if rl.config.WhitelistedUsers[userID] {
		return RateLimitResult{Allowed: true}
	}

	now := rl.config.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.maybeCleanupLocked(now)

	u := rl.users[userID]
	if u == nil {
		u = &userLimit{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.config.RequestsPerMinute)/60.0), rl.config.BurstSize),
		}
		rl.users[userID] = u
	}
	u.lastSeen = now

	if now.Before(u.bannedUntil) {
		wait := u.bannedUntil.Sub(now)
		return RateLimitResult{
			IsBanned:        true,
			RetryAfter:      wait,
			ResponseMessage: rl.config.OnRateLimited(userID, wait),
		}
	}

	reservation := u.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return RateLimitResult{Allowed: true}
	}
	reservation.CancelAt(now)

	if now.Sub(u.lastViolated) > rl.config.ViolationWindow {
		u.violations = 0
	}
	u.violations++
	u.lastViolated = now

	if rl.config.BanThreshold > 0 && u.violations >= rl.config.BanThreshold {
		u.bannedUntil = now.Add(rl.config.BanDuration)
		u.violations = 0
	}

	return RateLimitResult{
		RetryAfter:      delay,
		ResponseMessage: rl.config.OnRateLimited(userID, delay),
	}
}

// Reset forgets the rate limit state of a user.
func (rl *RateLimiter) Reset(userID int64) {
	rl.mu.Lock()
	delete(rl.users, userID)
	rl.mu.Unlock()
}

// Tracked returns the number of users with live state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}

// maybeCleanupLocked drops users idle for two cleanup intervals whose ban
// has expired.
func (rl *RateLimiter) maybeCleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < rl.config.CleanupInterval {
		return
	}
	rl.lastCleanup = now

	idle := 2 * rl.config.CleanupInterval
	for id, u := range rl.users {
		if now.Sub(u.lastSeen) > idle && now.After(u.bannedUntil) {
			delete(rl.users, id)
		}
	}
}
