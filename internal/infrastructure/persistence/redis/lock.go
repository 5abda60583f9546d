package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INSTANCE LOCK
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrLockHeld is returned when another instance owns the lock.
	ErrLockHeld = errors.New("lock: held by another instance")

	// ErrLockLost is returned when the lock expired or was taken over.
	ErrLockLost = errors.New("lock: ownership lost")
)

// Only the owner may extend or drop the lock.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// InstanceLock guarantees a single running bot per token.
// The value is a random owner token; the key expires unless refreshed.
type InstanceLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewInstanceLock creates a lock named after resource.
func NewInstanceLock(c *Cache, resource string, ttl time.Duration, log *slog.Logger) *InstanceLock {
	if ttl <= 0 {
		ttl = TTLInstanceLock
	}
	if log == nil {
		log = slog.Default()
	}
	return &InstanceLock{
		client: c.Client(),
		key:    LockKey(resource),
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: log.With(logger.Component("instance_lock")),
	}
}

// Token returns this instance's owner token.
func (l *InstanceLock) Token() string {
	return l.token
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *InstanceLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: acquire %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	l.logger.Info("instance lock acquired", slog.String("key", l.key), slog.String("token", l.token))
	return nil
}

// Hold refreshes the lock at a third of its TTL until ctx is done.
// It returns ErrLockLost if the key no longer carries our token.
func (l *InstanceLock) Hold(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Warn("instance lock refresh failed", "key", l.key, logger.Err(err))
				continue
			}
			if n == 0 {
				return ErrLockLost
			}
		}
	}
}

// Release drops the lock if we still own it.
func (l *InstanceLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	l.logger.Info("instance lock released", slog.String("key", l.key))
	return nil
}
