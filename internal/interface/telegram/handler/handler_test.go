package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// mocks
// ─────────────────────────────────────────────────────────────────────────────

type mockActivator struct{ mock.Mock }

func (m *mockActivator) Handle(ctx context.Context, cmd command.ActivateCourseCommand) (*command.ActivateCourseResult, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*command.ActivateCourseResult)
	return res, args.Error(1)
}

type mockSubmitter struct{ mock.Mock }

func (m *mockSubmitter) Handle(ctx context.Context, cmd command.SubmitHomeworkCommand) (*command.SubmitHomeworkResult, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*command.SubmitHomeworkResult)
	return res, args.Error(1)
}

type mockReviewer struct{ mock.Mock }

func (m *mockReviewer) Handle(ctx context.Context, cmd command.ReviewHomeworkCommand) (*command.ReviewHomeworkResult, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*command.ReviewHomeworkResult)
	return res, args.Error(1)
}

type mockRedeliverer struct{ mock.Mock }

func (m *mockRedeliverer) Handle(ctx context.Context, cmd command.RedeliverLessonCommand) (lesson.RedeliveryReport, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(lesson.RedeliveryReport), args.Error(1)
}

type mockProgress struct{ mock.Mock }

func (m *mockProgress) Handle(ctx context.Context, q query.GetProgressQuery) (*query.ProgressView, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).(*query.ProgressView)
	return res, args.Error(1)
}

type mockPending struct{ mock.Mock }

func (m *mockPending) Handle(ctx context.Context, q query.ListPendingHomeworkQuery) ([]query.PendingHomework, error) {
	args := m.Called(ctx, q)
	res, _ := args.Get(0).([]query.PendingHomework)
	return res, args.Error(1)
}

type gate map[string]bool

func (g gate) IsEnabled(name string, _ *config.FeatureContext) bool {
	on, ok := g[name]
	return !ok || on
}

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// ─────────────────────────────────────────────────────────────────────────────
// start / progress
// ─────────────────────────────────────────────────────────────────────────────

func TestStartHandler_NewUser(t *testing.T) {
	progress := new(mockProgress)
	progress.On("Handle", mock.Anything, query.GetProgressQuery{UserID: 7}).
		Return(&query.ProgressView{}, nil)

	h := NewStartHandler(progress, nil, presenter.NewKeyboardBuilder(), timeutil.NewFakeClock(now))
	resp, err := h.Handle(context.Background(), Request{UserID: 7, FirstName: "<Аня>"})
	require.NoError(t, err)

	assert.Contains(t, resp.Text, "&lt;Аня&gt;")
	assert.Contains(t, resp.Text, "/activate")
	assert.NotNil(t, resp.Keyboard)
	progress.AssertExpectations(t)
}

func TestProgressHandler_NextDueGated(t *testing.T) {
	due := now.Add(2 * time.Hour)
	view := &query.ProgressView{
		HasCourse:  true,
		CourseName: "Вводный курс",
		State:      progression.StateWaitingLessonDelivery,
		Lesson:     2,
		NextDueAt:  &due,
	}
	progress := new(mockProgress)
	progress.On("Handle", mock.Anything, mock.Anything).Return(view, nil)

	clock := timeutil.NewFakeClock(now)
	on := NewProgressHandler(progress, gate{}, presenter.NewKeyboardBuilder(), clock)
	resp, err := on.Handle(context.Background(), Request{UserID: 1})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Урок: 2")
	assert.Contains(t, resp.Text, "Следующий материал")

	off := NewProgressHandler(progress, gate{config.FeatureProgressNextDue: false}, presenter.NewKeyboardBuilder(), clock)
	resp, err = off.Handle(context.Background(), Request{UserID: 1})
	require.NoError(t, err)
	assert.NotContains(t, resp.Text, "Следующий материал")
}

func TestProgressHandler_NoCourse(t *testing.T) {
	progress := new(mockProgress)
	progress.On("Handle", mock.Anything, mock.Anything).Return(&query.ProgressView{}, nil)

	h := NewProgressHandler(progress, nil, presenter.NewKeyboardBuilder(), nil)
	resp, err := h.Handle(context.Background(), Request{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, presenter.NoCourse(), resp.Text)
	assert.Nil(t, resp.Keyboard)
}

// ─────────────────────────────────────────────────────────────────────────────
// activate
// ─────────────────────────────────────────────────────────────────────────────

func TestActivateHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		isError bool
	}{
		{name: "success", want: "активирован"},
		{name: "invalid code", err: course.ErrInvalidCode, want: textInvalidCode, isError: true},
		{name: "already enrolled", err: progression.ErrAlreadyEnrolled, want: textAlreadyEnrolled, isError: true},
		{name: "course running", err: progression.ErrInvalidTransition, want: textCourseInProgress, isError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activator := new(mockActivator)
			cmd := command.ActivateCourseCommand{UserID: 5, Code: "START-42"}
			if tt.err != nil {
				activator.On("Handle", mock.Anything, cmd).Return(nil, tt.err)
			} else {
				activator.On("Handle", mock.Anything, cmd).
					Return(&command.ActivateCourseResult{CourseID: "intro", CourseName: "Вводный курс", Armed: true}, nil)
			}

			h := NewActivateHandler(activator, new(mockProgress), nil, presenter.NewKeyboardBuilder(), nil)
			resp, err := h.Handle(context.Background(), Request{UserID: 5, Args: "  START-42 "})
			require.NoError(t, err)
			assert.Contains(t, resp.Text, tt.want)
			assert.Equal(t, tt.isError, resp.IsError)
			activator.AssertExpectations(t)
		})
	}
}

func TestActivateHandler_EmptyCode(t *testing.T) {
	activator := new(mockActivator)
	h := NewActivateHandler(activator, new(mockProgress), nil, presenter.NewKeyboardBuilder(), nil)

	resp, err := h.Handle(context.Background(), Request{UserID: 5})
	require.NoError(t, err)
	assert.Equal(t, textNeedCode, resp.Text)
	activator.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestActivateHandler_UnexpectedErrorPropagates(t *testing.T) {
	activator := new(mockActivator)
	activator.On("Handle", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	h := NewActivateHandler(activator, new(mockProgress), nil, presenter.NewKeyboardBuilder(), nil)
	resp, err := h.Handle(context.Background(), Request{UserID: 5, Args: "X"})
	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestActivateHandler_HandleText(t *testing.T) {
	t.Run("ignores sentences", func(t *testing.T) {
		h := NewActivateHandler(new(mockActivator), new(mockProgress), nil, presenter.NewKeyboardBuilder(), nil)
		resp, err := h.HandleText(context.Background(), Request{UserID: 5, Args: "привет как дела"})
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("disabled", func(t *testing.T) {
		h := NewActivateHandler(new(mockActivator), new(mockProgress),
			gate{config.FeatureTextActivation: false}, presenter.NewKeyboardBuilder(), nil)
		resp, err := h.HandleText(context.Background(), Request{UserID: 5, Args: "START-42"})
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("running course gets a hint", func(t *testing.T) {
		progress := new(mockProgress)
		progress.On("Handle", mock.Anything, mock.Anything).
			Return(&query.ProgressView{HasCourse: true, State: progression.StateWaitingHomework}, nil)
		activator := new(mockActivator)

		h := NewActivateHandler(activator, progress, nil, presenter.NewKeyboardBuilder(), nil)
		resp, err := h.HandleText(context.Background(), Request{UserID: 5, Args: "START-42"})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "/progress")
		activator.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("activates a code", func(t *testing.T) {
		progress := new(mockProgress)
		progress.On("Handle", mock.Anything, mock.Anything).Return(&query.ProgressView{}, nil)
		activator := new(mockActivator)
		activator.On("Handle", mock.Anything, command.ActivateCourseCommand{UserID: 5, Code: "START-42"}).
			Return(&command.ActivateCourseResult{CourseName: "Вводный курс"}, nil)

		h := NewActivateHandler(activator, progress, nil, presenter.NewKeyboardBuilder(), nil)
		resp, err := h.HandleText(context.Background(), Request{UserID: 5, Args: "START-42"})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "Вводный курс")
		activator.AssertExpectations(t)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// homework
// ─────────────────────────────────────────────────────────────────────────────

func TestHomeworkHandler(t *testing.T) {
	submitter := new(mockSubmitter)
	submitter.On("Handle", mock.Anything, command.SubmitHomeworkCommand{UserID: 9, FileID: "f1", Kind: homework.FilePhoto}).
		Return(&command.SubmitHomeworkResult{Lesson: 3}, nil)

	h := NewHomeworkHandler(submitter, nil, nil)
	resp, err := h.Handle(context.Background(), HomeworkRequest{
		Request: Request{UserID: 9},
		FileID:  "f1",
		Kind:    homework.FilePhoto,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "уроку 3")
	assert.False(t, resp.IsError)
}

func TestHomeworkHandler_DocumentsGated(t *testing.T) {
	submitter := new(mockSubmitter)
	h := NewHomeworkHandler(submitter, gate{config.FeatureDocumentHomework: false}, nil)

	resp, err := h.Handle(context.Background(), HomeworkRequest{
		Request: Request{UserID: 9},
		FileID:  "doc",
		Kind:    homework.FileDocument,
	})
	require.NoError(t, err)
	assert.Equal(t, textOnlyPhoto, resp.Text)
	submitter.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestHomeworkHandler_ErrorTexts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "duplicate", err: homework.ErrDuplicateSubmission, want: textDuplicate},
		{name: "no course", err: progression.ErrStateNotFound, want: presenter.NoCourse()},
		{
			name: "waiting approval",
			err:  &progression.StateError{Current: &progression.UserState{State: progression.StateWaitingApproval}},
			want: textDuplicate,
		},
		{
			name: "completed",
			err:  &progression.StateError{Current: &progression.UserState{State: progression.StateCourseCompleted}},
			want: textCourseCompleted,
		},
		{
			name: "still delivering",
			err:  &progression.StateError{Current: &progression.UserState{State: progression.StateWaitingLessonDelivery}},
			want: textNotYet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := new(mockSubmitter)
			submitter.On("Handle", mock.Anything, mock.Anything).Return(nil, tt.err)

			h := NewHomeworkHandler(submitter, nil, nil)
			resp, err := h.Handle(context.Background(), HomeworkRequest{Request: Request{UserID: 9}, FileID: "f", Kind: homework.FilePhoto})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Text)
			assert.True(t, resp.IsError)
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// admin
// ─────────────────────────────────────────────────────────────────────────────

func TestPendingHandler(t *testing.T) {
	id := uuid.New()
	pending := new(mockPending)
	pending.On("Handle", mock.Anything, query.ListPendingHomeworkQuery{Limit: pendingListLimit}).
		Return([]query.PendingHomework{{
			Submission: homework.Submission{ID: id, UserID: 42, Lesson: 2, SubmittedAt: now.Add(-time.Hour)},
			CourseName: "Вводный курс",
		}}, nil)

	h := NewPendingHandler(pending, presenter.NewKeyboardBuilder(), timeutil.NewFakeClock(now))
	resp, err := h.Handle(context.Background(), Request{UserID: 1, IsAdmin: true})
	require.NoError(t, err)

	assert.Contains(t, resp.Text, id.String())
	require.NotNil(t, resp.Keyboard)
	require.Len(t, resp.Keyboard.Rows, 1)
	assert.Equal(t, homework.ApproveCallback(id), resp.Keyboard.Rows[0][0].CallbackData)
}

func TestPendingHandler_Empty(t *testing.T) {
	pending := new(mockPending)
	pending.On("Handle", mock.Anything, mock.Anything).Return([]query.PendingHomework{}, nil)

	h := NewPendingHandler(pending, presenter.NewKeyboardBuilder(), nil)
	resp, err := h.Handle(context.Background(), Request{})
	require.NoError(t, err)
	assert.Nil(t, resp.Keyboard)
}

func TestRejectHandler(t *testing.T) {
	id := uuid.New()
	reviewer := new(mockReviewer)
	reviewer.On("Handle", mock.Anything, command.ReviewHomeworkCommand{
		Decision:   homework.Reject{ID: id, Reason: "нет подписи на листе"},
		ReviewerID: 1,
	}).Return(&command.ReviewHomeworkResult{
		Submission: homework.Submission{ID: id, UserID: 42, Lesson: 2},
	}, nil)

	h := NewRejectHandler(reviewer, nil)
	resp, err := h.Handle(context.Background(), Request{UserID: 1, Args: id.String() + " нет подписи на листе"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "отклонено")
	reviewer.AssertExpectations(t)
}

func TestRejectHandler_BadArgs(t *testing.T) {
	reviewer := new(mockReviewer)
	h := NewRejectHandler(reviewer, nil)

	resp, err := h.Handle(context.Background(), Request{UserID: 1, Args: "not-a-uuid"})
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	reviewer.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestRejectHandler_AlreadyReviewed(t *testing.T) {
	reviewer := new(mockReviewer)
	reviewer.On("Handle", mock.Anything, mock.Anything).Return(nil, homework.ErrAlreadyReviewed)

	h := NewRejectHandler(reviewer, nil)
	resp, err := h.Handle(context.Background(), Request{UserID: 1, Args: uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, textAlreadyReviewed, resp.Text)
}

func TestRedeliverHandler(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		r := new(mockRedeliverer)
		r.On("Handle", mock.Anything, command.RedeliverLessonCommand{UserID: 42, RequestedBy: 1}).
			Return(lesson.RedeliveryReport{Lesson: 3, Attempted: 2, Delivered: 1}, errors.New("send failed"))

		h := NewRedeliverHandler(r, nil)
		resp, err := h.Handle(context.Background(), Request{UserID: 1, IsAdmin: true, Args: "42"})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "1 из 2")
		assert.Contains(t, resp.Text, "⚠️")
	})

	t.Run("complete", func(t *testing.T) {
		r := new(mockRedeliverer)
		r.On("Handle", mock.Anything, mock.Anything).
			Return(lesson.RedeliveryReport{Lesson: 3, Attempted: 1, Delivered: 1, LessonComplete: true}, nil)

		h := NewRedeliverHandler(r, nil)
		resp, err := h.Handle(context.Background(), Request{UserID: 1, IsAdmin: true, Args: "42"})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "полностью доставлен")
	})

	t.Run("nothing to do", func(t *testing.T) {
		r := new(mockRedeliverer)
		r.On("Handle", mock.Anything, mock.Anything).
			Return(lesson.RedeliveryReport{}, lesson.ErrNothingToRedeliver)

		h := NewRedeliverHandler(r, nil)
		resp, err := h.Handle(context.Background(), Request{UserID: 1, IsAdmin: true, Args: "42"})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "нет неотправленных")
	})

	t.Run("bad user id", func(t *testing.T) {
		r := new(mockRedeliverer)
		h := NewRedeliverHandler(r, nil)
		resp, err := h.Handle(context.Background(), Request{UserID: 1, IsAdmin: true, Args: "abc"})
		require.NoError(t, err)
		assert.True(t, resp.IsError)
		r.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("disabled", func(t *testing.T) {
		r := new(mockRedeliverer)
		h := NewRedeliverHandler(r, gate{config.FeatureAdminRedeliver: false})
		resp, err := h.Handle(context.Background(), Request{UserID: 1, IsAdmin: true, Args: "42"})
		require.NoError(t, err)
		assert.True(t, resp.IsError)
	})
}
