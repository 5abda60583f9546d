package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/infrastructure/content"
	"github.com/antbot/course-bot/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *content.FileCatalog {
	t.Helper()
	cat, err := content.ParseCatalog([]byte(`
intro:
  name: Вводный курс
  tiers:
    basic: {name: Базовый, code: START-42}
`))
	require.NoError(t, err)
	return cat
}

func enroll(t *testing.T, store *memory.Store, userID int64, state progression.State, lesson int) {
	t.Helper()
	ctx := context.Background()
	en, err := progression.NewEnrollment(userID, "intro", "basic", t0)
	require.NoError(t, err)
	require.NoError(t, store.Enrollments().CreateEnrollment(ctx, en))
	require.NoError(t, store.States().UpsertState(ctx, progression.UserState{
		UserID: userID, State: state, CourseID: "intro", Lesson: lesson, UpdatedAt: t0,
	}))
}

func submit(t *testing.T, store *memory.Store, userID int64, at time.Time) *homework.Submission {
	t.Helper()
	sub, err := homework.NewSubmission(userID, "intro", 1, homework.ContentRef{FileID: "file", Kind: homework.FilePhoto}, at)
	require.NoError(t, err)
	require.NoError(t, store.Homework().InsertSubmission(context.Background(), sub))
	return sub
}

func TestGetProgress_NoCourse(t *testing.T) {
	h := NewGetProgressHandler(memory.NewStore(), testCatalog(t))

	view, err := h.Handle(context.Background(), GetProgressQuery{UserID: 42})
	require.NoError(t, err)
	assert.False(t, view.HasCourse)
}

func TestGetProgress_WaitingLesson(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enroll(t, store, 42, progression.StateWaitingLessonDelivery, 1)

	due := t0.Add(2 * time.Hour)
	require.NoError(t, store.Deliveries().ReplaceLesson(ctx, 42, "intro", 1, []delivery.ScheduledDelivery{
		{UserID: 42, CourseID: "intro", Lesson: 1, ContentItem: "b_1hour.txt", Kind: course.KindText, DueAt: due.Add(time.Hour), CreatedAt: t0},
		{UserID: 42, CourseID: "intro", Lesson: 1, ContentItem: "a.txt", Kind: course.KindText, DueAt: due, CreatedAt: t0},
	}))

	view, err := NewGetProgressHandler(store, testCatalog(t)).Handle(ctx, GetProgressQuery{UserID: 42})
	require.NoError(t, err)

	assert.True(t, view.HasCourse)
	assert.Equal(t, "Вводный курс", view.CourseName)
	assert.Equal(t, "Базовый", view.TierName)
	assert.Equal(t, progression.StateWaitingLessonDelivery, view.State)
	assert.Equal(t, 1, view.Lesson)
	assert.Equal(t, t0, view.EnrolledAt)
	require.NotNil(t, view.NextDueAt)
	assert.Equal(t, due, *view.NextDueAt)
	assert.Zero(t, view.PendingHomework)
}

func TestGetProgress_WaitingApproval(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enroll(t, store, 42, progression.StateWaitingApproval, 1)
	submit(t, store, 42, t0)

	view, err := NewGetProgressHandler(store, testCatalog(t)).Handle(ctx, GetProgressQuery{UserID: 42})
	require.NoError(t, err)
	assert.Nil(t, view.NextDueAt)
	assert.Equal(t, 1, view.PendingHomework)
}

func TestListPendingHomework(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for i, userID := range []int64{3, 1, 2} {
		enroll(t, store, userID, progression.StateWaitingApproval, 1)
		submit(t, store, userID, t0.Add(time.Duration(i)*time.Minute))
	}

	h := NewListPendingHomeworkHandler(store, testCatalog(t))

	rows, err := h.Handle(ctx, ListPendingHomeworkQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), rows[0].Submission.UserID)
	assert.Equal(t, int64(2), rows[2].Submission.UserID)
	assert.Equal(t, "Вводный курс", rows[0].CourseName)

	rows, err = h.Handle(ctx, ListPendingHomeworkQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
