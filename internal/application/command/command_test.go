package command

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/notification"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/internal/infrastructure/content"
	"github.com/antbot/course-bot/internal/infrastructure/persistence/memory"
	"github.com/antbot/course-bot/pkg/timeutil"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

const catalogYAML = `
intro:
  name: Вводный курс
  tiers:
    basic:
      name: Базовый
      code: START-42
advanced:
  name: Продвинутый
  code: ADV-1
`

type recordingSender struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (s *recordingSender) Send(_ context.Context, _ int64, msg notification.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) has(t shared.EventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EventType() == t {
			return true
		}
	}
	return false
}

type env struct {
	store    *memory.Store
	clock    *timeutil.FakeClock
	sender   *recordingSender
	events   *recordingPublisher
	lessons  *lesson.Service
	activate *ActivateCourseHandler
	submit   *SubmitHomeworkHandler
	review   *ReviewHomeworkHandler
	redo     *RedeliverLessonHandler
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// newEnv builds the course tree:
//
//	intro/lesson1/welcome.txt
//	intro/lesson2/theory.txt, intro/lesson2/practice_15min.txt
//	advanced/lesson1/start.txt
func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "intro", "lesson1", "welcome.txt"), "Добро пожаловать!")
	writeFile(t, filepath.Join(root, "intro", "lesson2", "theory.txt"), "Теория")
	writeFile(t, filepath.Join(root, "intro", "lesson2", "practice_15min.txt"), "Практика")
	writeFile(t, filepath.Join(root, "advanced", "lesson1", "start.txt"), "Старт")

	catalog, err := content.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	files := content.NewFilesystem(root)

	e := &env{
		store:  memory.NewStore(),
		clock:  timeutil.NewFakeClock(t0),
		sender: &recordingSender{},
		events: &recordingPublisher{},
	}
	e.lessons = lesson.NewService(e.store, files, e.sender, e.events, e.clock, nil, lesson.DefaultConfig())
	e.activate = NewActivateCourseHandler(e.store, catalog, files, e.lessons, e.events, e.clock, nil)
	e.submit = NewSubmitHomeworkHandler(e.store, e.events, e.clock, nil)
	e.review = NewReviewHomeworkHandler(e.store, files, e.lessons, e.events, e.clock, nil)
	e.redo = NewRedeliverLessonHandler(e.lessons, nil)
	return e
}

func (e *env) state(t *testing.T, userID int64) progression.UserState {
	t.Helper()
	st, err := e.store.States().GetState(context.Background(), userID)
	require.NoError(t, err)
	return *st
}

func (e *env) enrollment(t *testing.T, userID int64, courseID string) *progression.Enrollment {
	t.Helper()
	en, err := e.store.Enrollments().GetEnrollment(context.Background(), userID, courseID)
	require.NoError(t, err)
	return en
}

func (e *env) deliver(t *testing.T) lesson.DeliveryReport {
	t.Helper()
	report, err := e.lessons.DeliverDue(context.Background())
	require.NoError(t, err)
	return report
}

func (e *env) submitPhoto(t *testing.T, userID int64) uuid.UUID {
	t.Helper()
	res, err := e.submit.Handle(context.Background(), SubmitHomeworkCommand{UserID: userID, FileID: "photo-" + uuid.NewString(), Kind: homework.FilePhoto})
	require.NoError(t, err)
	return res.SubmissionID
}

// ══════════════════════════════════════════════════════════════════════════════
// END TO END
// ══════════════════════════════════════════════════════════════════════════════

func TestEndToEnd_User42CompletesIntro(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	act, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "  start-42 "})
	require.NoError(t, err)
	assert.Equal(t, "intro", act.CourseID)
	assert.Equal(t, "basic", act.TierID)
	assert.True(t, act.Armed)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingLessonDelivery, "intro", 1))
	assert.True(t, e.events.has(shared.EventCourseActivated))

	// One polling pass delivers lesson 1.
	report := e.deliver(t)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.LessonsCompleted)
	require.Len(t, e.sender.sent, 1)
	assert.Equal(t, "Добро пожаловать!", e.sender.sent[0].Text)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingHomework, "intro", 1))

	subID := e.submitPhoto(t, 42)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingApproval, "intro", 1))

	e.clock.Advance(time.Hour)
	approvedAt := e.clock.Now()
	res, err := e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{ID: subID}, ReviewerID: 7})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, 2, res.NextLesson)
	require.NotNil(t, res.NextLessonDueAt)
	assert.Equal(t, approvedAt.Add(24*time.Hour), *res.NextLessonDueAt)
	assert.Equal(t, homework.StatusApproved, res.Submission.Status)

	assert.Equal(t, 2, e.enrollment(t, 42, "intro").CurrentLesson)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingLessonDelivery, "intro", 2))

	next, err := e.lessons.NextDue(ctx, 42, "intro")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, approvedAt.Add(24*time.Hour), *next)

	status, err := e.store.Deliveries().LessonStatus(ctx, 42, "intro", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Pending)

	// Lesson 2: one item at the lesson time, one 15 minutes later.
	e.clock.Advance(24 * time.Hour)
	assert.Equal(t, 1, e.deliver(t).Delivered)
	assert.Equal(t, progression.StateWaitingLessonDelivery, e.state(t, 42).State)

	e.clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, e.deliver(t).LessonsCompleted)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingHomework, "intro", 2))

	// Lesson 2 is the last one.
	subID = e.submitPhoto(t, 42)
	res, err = e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{ID: subID}, ReviewerID: 7})
	require.NoError(t, err)
	assert.True(t, res.CourseCompleted)
	assert.Zero(t, res.NextLesson)
	assert.Nil(t, res.NextLessonDueAt)

	en := e.enrollment(t, 42, "intro")
	assert.Equal(t, 2, en.CurrentLesson)
	assert.True(t, en.IsCompleted())
	assert.True(t, e.state(t, 42).Is(progression.StateCourseCompleted, "intro", 2))
	assert.True(t, e.events.has(shared.EventCourseCompleted))

	// A completed course frees the user for another one.
	act, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "adv-1"})
	require.NoError(t, err)
	assert.Equal(t, "advanced", act.CourseID)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingLessonDelivery, "advanced", 1))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVATION
// ══════════════════════════════════════════════════════════════════════════════

func TestActivate_SecondCallIsAlreadyEnrolled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "START-42"})
	require.NoError(t, err)
	e.deliver(t)
	subID := e.submitPhoto(t, 42)
	_, err = e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{ID: subID}, ReviewerID: 7})
	require.NoError(t, err)

	_, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	assert.ErrorIs(t, err, progression.ErrAlreadyEnrolled)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.Equal(t, 2, e.enrollment(t, 42, "intro").CurrentLesson)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingLessonDelivery, "intro", 2))
}

func TestActivate_ConcurrentCallsEnrollOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, progression.ErrAlreadyEnrolled)
	}
	assert.Equal(t, 1, ok)

	status, err := e.store.Deliveries().LessonStatus(ctx, 42, "intro", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Total)
}

func TestActivate_Rejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "nope"})
	assert.ErrorIs(t, err, course.ErrInvalidCode)

	_, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 0, Code: "start-42"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = e.store.States().GetState(ctx, 42)
	assert.ErrorIs(t, err, progression.ErrStateNotFound)

	// Another course while one is in progress.
	_, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	require.NoError(t, err)
	_, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "adv-1"})
	assert.ErrorIs(t, err, progression.ErrInvalidTransition)

	_, err = e.store.Enrollments().GetEnrollment(ctx, 42, "advanced")
	assert.ErrorIs(t, err, progression.ErrEnrollmentNotFound)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingLessonDelivery, "intro", 1))
}

// ══════════════════════════════════════════════════════════════════════════════
// HOMEWORK
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmit_BeforeDeliveryIsStateError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.submit.Handle(ctx, SubmitHomeworkCommand{UserID: 42, FileID: "f", Kind: homework.FilePhoto})
	assert.ErrorIs(t, err, progression.ErrInvalidTransition, "no course yet")

	_, err = e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	require.NoError(t, err)

	_, err = e.submit.Handle(ctx, SubmitHomeworkCommand{UserID: 42, FileID: "f", Kind: homework.FilePhoto})
	var stateErr *progression.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, progression.StateWaitingLessonDelivery, stateErr.Current.State)

	n, err := e.store.Homework().CountPending(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingLessonDelivery, "intro", 1))
}

func TestSubmit_DuplicatePending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	require.NoError(t, err)
	e.deliver(t)
	e.submitPhoto(t, 42)

	_, err = e.submit.Handle(ctx, SubmitHomeworkCommand{UserID: 42, FileID: "again", Kind: homework.FileDocument})
	assert.ErrorIs(t, err, homework.ErrDuplicateSubmission)

	_, err = e.submit.Handle(ctx, SubmitHomeworkCommand{UserID: 42, FileID: "x", Kind: "video"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	n, err := e.store.Homework().CountPending(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReview_ApproveThenDeclineAdvancesOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	require.NoError(t, err)
	e.deliver(t)
	subID := e.submitPhoto(t, 42)

	_, err = e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{ID: subID}, ReviewerID: 7})
	require.NoError(t, err)

	_, err = e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Reject{ID: subID, Reason: "late"}, ReviewerID: 8})
	assert.ErrorIs(t, err, homework.ErrAlreadyReviewed)

	_, err = e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{ID: subID}, ReviewerID: 7})
	assert.ErrorIs(t, err, homework.ErrAlreadyReviewed)

	assert.Equal(t, 2, e.enrollment(t, 42, "intro").CurrentLesson)
	status, err := e.store.Deliveries().LessonStatus(ctx, 42, "intro", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
	status, err = e.store.Deliveries().LessonStatus(ctx, 42, "intro", 3)
	require.NoError(t, err)
	assert.Zero(t, status.Total)
}

func TestReview_RejectKeepsLesson(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	require.NoError(t, err)
	e.deliver(t)
	subID := e.submitPhoto(t, 42)

	res, err := e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Reject{ID: subID, Reason: "  нет решения  "}, ReviewerID: 7})
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, homework.StatusDeclined, res.Submission.Status)
	assert.Equal(t, "нет решения", res.Submission.ReviewComment)

	assert.Equal(t, 1, e.enrollment(t, 42, "intro").CurrentLesson)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingHomework, "intro", 1))
	assert.True(t, e.events.has(shared.EventHomeworkRejected))

	// The user may resubmit the same lesson.
	e.submitPhoto(t, 42)
	assert.True(t, e.state(t, 42).Is(progression.StateWaitingApproval, "intro", 1))
}

func TestReview_Errors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{ID: uuid.New()}, ReviewerID: 7})
	assert.ErrorIs(t, err, homework.ErrSubmissionNotFound)

	_, err = e.review.Handle(ctx, ReviewHomeworkCommand{ReviewerID: 7})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = e.review.Handle(ctx, ReviewHomeworkCommand{Decision: homework.Approve{}, ReviewerID: 7})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRedeliver_NothingFailed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.activate.Handle(ctx, ActivateCourseCommand{UserID: 42, Code: "start-42"})
	require.NoError(t, err)
	e.deliver(t)

	_, err = e.redo.Handle(ctx, RedeliverLessonCommand{UserID: 42, RequestedBy: 7})
	assert.ErrorIs(t, err, lesson.ErrNothingToRedeliver)

	_, err = e.redo.Handle(ctx, RedeliverLessonCommand{UserID: 42})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = e.redo.Handle(ctx, RedeliverLessonCommand{UserID: 99, RequestedBy: 7})
	assert.ErrorIs(t, err, progression.ErrStateNotFound)
}
