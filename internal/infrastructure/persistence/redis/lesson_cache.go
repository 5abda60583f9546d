package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON LISTING CACHE
// ══════════════════════════════════════════════════════════════════════════════

// listingStore is the subset of *Cache the lesson cache needs.
type listingStore interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// LessonCache wraps a content repository and caches lesson listings.
// Cache errors are logged and fall through to the wrapped repository.
// Missing lessons are not cached so newly uploaded content is seen on the
// next reconcile pass.
type LessonCache struct {
	inner  course.ContentRepository
	store  listingStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewLessonCache creates a caching content repository.
func NewLessonCache(inner course.ContentRepository, store listingStore, ttl time.Duration, log *slog.Logger) *LessonCache {
	if ttl <= 0 {
		ttl = TTLLessonListing
	}
	if log == nil {
		log = slog.Default()
	}
	return &LessonCache{inner: inner, store: store, ttl: ttl, logger: log.With(logger.Component("lesson_cache"))}
}

// ListLessonContent implements course.ContentRepository.
func (c *LessonCache) ListLessonContent(ctx context.Context, courseID string, lesson int) ([]course.ContentItem, error) {
	key := LessonKey(courseID, lesson)

	var cached []course.ContentItem
	err := c.store.Get(ctx, key, &cached)
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("lesson cache read failed", "key", key, logger.Err(err))
	}

	items, err := c.inner.ListLessonContent(ctx, courseID, lesson)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, key, items, c.ttl); err != nil {
		c.logger.Warn("lesson cache write failed", "key", key, logger.Err(err))
	}
	return items, nil
}

// ReadText implements course.ContentRepository. Bodies are never cached.
func (c *LessonCache) ReadText(ctx context.Context, item course.ContentItem) (string, error) {
	return c.inner.ReadText(ctx, item)
}

// Invalidate drops the cached listing of a lesson.
func (c *LessonCache) Invalidate(ctx context.Context, courseID string, lesson int) error {
	return c.store.Delete(ctx, LessonKey(courseID, lesson))
}
