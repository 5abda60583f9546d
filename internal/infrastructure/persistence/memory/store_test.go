package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func lessonRows(names ...string) []delivery.ScheduledDelivery {
	items := make([]course.ContentItem, 0, len(names))
	for _, n := range names {
		items = append(items, course.NewContentItem(n, "/content/intro/lesson1/"+n))
	}
	return delivery.Plan(42, "intro", 1, items, now, course.DefaultDelayPolicy(), now)
}

func TestClaim_ExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Deliveries().ReplaceLesson(ctx, 42, "intro", 1, lessonRows("intro.txt")))

	due, err := s.Deliveries().ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Deliveries().Claim(ctx, due[0].ID, now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	due, err = s.Deliveries().ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestClaim_NotBeforeDue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Deliveries().ReplaceLesson(ctx, 42, "intro", 1, lessonRows("task_15min.txt")))

	due, err := s.Deliveries().ListDue(ctx, now.Add(15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := s.Deliveries().Claim(ctx, due[0].ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceLesson_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Deliveries()

	require.NoError(t, repo.ReplaceLesson(ctx, 42, "intro", 1, lessonRows("a.txt", "b_5min.txt")))
	require.NoError(t, repo.ReplaceLesson(ctx, 42, "intro", 1, lessonRows("a.txt", "b_5min.txt")))

	st, err := repo.LessonStatus(ctx, 42, "intro", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	ok, err := repo.Claim(ctx, due[0].ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	// a.txt was already sent and must not be armed again.
	require.NoError(t, repo.ReplaceLesson(ctx, 42, "intro", 1, lessonRows("a.txt", "b_5min.txt")))
	st, err = repo.LessonStatus(ctx, 42, "intro", 1)
	require.NoError(t, err)
	assert.Equal(t, delivery.LessonStatus{Total: 2, Pending: 1, InFlight: 1}, st)
}

func TestLessonStatus_Outcomes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Deliveries()
	require.NoError(t, repo.ReplaceLesson(ctx, 42, "intro", 1, lessonRows("a.txt", "b.txt")))

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, row := range due {
		ok, err := repo.Claim(ctx, row.ID, now)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, repo.MarkDelivered(ctx, due[0].ID, now))
	require.NoError(t, repo.MarkFailed(ctx, due[1].ID, "timeout", now))

	st, err := repo.LessonStatus(ctx, 42, "intro", 1)
	require.NoError(t, err)
	assert.Equal(t, delivery.LessonStatus{Total: 2, Delivered: 1, Failed: 1}, st)
	assert.False(t, st.Complete())

	failed, err := repo.ListFailed(ctx, 42, "intro", 1)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "timeout", failed[0].LastError)

	require.NoError(t, repo.MarkDelivered(ctx, due[1].ID, now))
	st, err = repo.LessonStatus(ctx, 42, "intro", 1)
	require.NoError(t, err)
	assert.True(t, st.Complete())

	n, err := repo.DeleteDeliveredBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFailStale_OnlyOldInFlightRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Deliveries()
	require.NoError(t, repo.ReplaceLesson(ctx, 42, "intro", 1, lessonRows("a.txt", "b.txt", "c.txt", "d_5min.txt")))

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)

	for _, row := range due[:2] {
		ok, err := repo.Claim(ctx, row.ID, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := repo.Claim(ctx, due[2].ID, now.Add(4*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.MarkDelivered(ctx, due[0].ID, now))

	stale, err := repo.FailStale(ctx, now.Add(time.Minute), delivery.ReasonOutcomeUnknown, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, due[1].ID, stale[0].ID)
	assert.True(t, stale[0].Failed)
	assert.Equal(t, delivery.ReasonOutcomeUnknown, stale[0].LastError)

	st, err := repo.LessonStatus(ctx, 42, "intro", 1)
	require.NoError(t, err)
	assert.Equal(t, delivery.LessonStatus{Total: 4, Pending: 1, InFlight: 1, Delivered: 1, Failed: 1}, st)

	stale, err = repo.FailStale(ctx, now.Add(time.Minute), delivery.ReasonOutcomeUnknown, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestEnrollment_Unique(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	e, err := progression.NewEnrollment(42, "intro", "basic", now)
	require.NoError(t, err)
	require.NoError(t, s.Enrollments().CreateEnrollment(ctx, e))
	assert.ErrorIs(t, s.Enrollments().CreateEnrollment(ctx, e), progression.ErrAlreadyEnrolled)

	require.NoError(t, s.Enrollments().AdvanceLesson(ctx, 42, "intro", 1, now))
	assert.ErrorIs(t, s.Enrollments().AdvanceLesson(ctx, 42, "intro", 1, now), progression.ErrLessonMismatch)

	got, err := s.Enrollments().GetEnrollment(ctx, 42, "intro")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLesson)
}

func TestHomework_PendingUniqueAndConditionalReview(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ref := homework.ContentRef{FileID: "f1", Kind: homework.FilePhoto}

	first, err := homework.NewSubmission(42, "intro", 1, ref, now)
	require.NoError(t, err)
	require.NoError(t, s.Homework().InsertSubmission(ctx, first))

	second, err := homework.NewSubmission(42, "intro", 1, ref, now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Homework().InsertSubmission(ctx, second), homework.ErrDuplicateSubmission)

	stale := *first
	require.NoError(t, first.Decline(7, "redo", now))
	require.NoError(t, s.Homework().UpdateReview(ctx, first))

	require.NoError(t, stale.Approve(7, nil, now))
	assert.ErrorIs(t, s.Homework().UpdateReview(ctx, &stale), homework.ErrAlreadyReviewed)

	// A declined row no longer blocks a resubmission.
	require.NoError(t, s.Homework().InsertSubmission(ctx, second))
	n, err := s.Homework().CountPending(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		e, err := progression.NewEnrollment(42, "intro", "basic", now)
		require.NoError(t, err)
		require.NoError(t, tx.Enrollments().CreateEnrollment(ctx, e))
		require.NoError(t, tx.States().UpsertState(ctx, progression.UserState{UserID: 42, State: progression.StateWaitingLessonDelivery, CourseID: "intro", Lesson: 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Enrollments().GetEnrollment(ctx, 42, "intro")
	assert.ErrorIs(t, err, progression.ErrEnrollmentNotFound)
	_, err = s.States().GetState(ctx, 42)
	assert.ErrorIs(t, err, progression.ErrStateNotFound)

	err = s.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return tx.States().UpsertState(ctx, progression.UserState{UserID: 42, State: progression.StateWaitingHomework, CourseID: "intro", Lesson: 1})
	})
	require.NoError(t, err)

	st, err := s.States().GetState(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, progression.StateWaitingHomework, st.State)
}

func TestNextDue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Deliveries().NextDue(ctx, 42, "intro")
	assert.ErrorIs(t, err, delivery.ErrDeliveryNotFound)

	require.NoError(t, s.Deliveries().ReplaceLesson(ctx, 42, "intro", 1, lessonRows("x_2hour.txt", "y_5min.txt")))
	next, err := s.Deliveries().NextDue(ctx, 42, "intro")
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute), next)
}
