package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/domain/course"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return errors.New("connection refused")
	}
	b, ok := s.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (s *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = b
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

type mockContent struct {
	mock.Mock
}

func (m *mockContent) ListLessonContent(ctx context.Context, courseID string, lesson int) ([]course.ContentItem, error) {
	args := m.Called(ctx, courseID, lesson)
	items, _ := args.Get(0).([]course.ContentItem)
	return items, args.Error(1)
}

func (m *mockContent) ReadText(ctx context.Context, item course.ContentItem) (string, error) {
	args := m.Called(ctx, item)
	return args.String(0), args.Error(1)
}

func TestLessonCache_HitsInnerOnce(t *testing.T) {
	ctx := context.Background()
	items := []course.ContentItem{
		course.NewContentItem("01_intro.txt", "/c/intro/lesson1/01_intro.txt"),
		course.NewContentItem("02_video_5min.mp4", "/c/intro/lesson1/02_video_5min.mp4"),
	}

	inner := &mockContent{}
	inner.On("ListLessonContent", ctx, "intro", 1).Return(items, nil).Once()

	c := NewLessonCache(inner, newMemStore(), time.Minute, nil)

	first, err := c.ListLessonContent(ctx, "intro", 1)
	require.NoError(t, err)
	second, err := c.ListLessonContent(ctx, "intro", 1)
	require.NoError(t, err)

	assert.Equal(t, items, first)
	assert.Equal(t, items, second)
	assert.Equal(t, 5*time.Minute, second[1].Delay)
	inner.AssertExpectations(t)
}

func TestLessonCache_MissingLessonNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &mockContent{}
	inner.On("ListLessonContent", ctx, "intro", 3).Return(nil, course.ErrLessonNotFound).Twice()

	c := NewLessonCache(inner, newMemStore(), time.Minute, nil)

	_, err := c.ListLessonContent(ctx, "intro", 3)
	assert.ErrorIs(t, err, course.ErrLessonNotFound)
	_, err = c.ListLessonContent(ctx, "intro", 3)
	assert.ErrorIs(t, err, course.ErrLessonNotFound)
	inner.AssertExpectations(t)
}

func TestLessonCache_StoreFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	items := []course.ContentItem{course.NewContentItem("a.txt", "/a.txt")}

	inner := &mockContent{}
	inner.On("ListLessonContent", ctx, "intro", 1).Return(items, nil)

	store := newMemStore()
	store.failGet = true

	got, err := NewLessonCache(inner, store, 0, nil).ListLessonContent(ctx, "intro", 1)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestLessonCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	inner := &mockContent{}
	inner.On("ListLessonContent", ctx, "intro", 1).Return([]course.ContentItem{}, nil).Twice()

	c := NewLessonCache(inner, newMemStore(), time.Minute, nil)

	_, err := c.ListLessonContent(ctx, "intro", 1)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "intro", 1))
	_, err = c.ListLessonContent(ctx, "intro", 1)
	require.NoError(t, err)

	inner.AssertExpectations(t)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lesson:intro:2", LessonKey("intro", 2))
	assert.Equal(t, "lock:course-bot", LockKey("course-bot"))
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}
