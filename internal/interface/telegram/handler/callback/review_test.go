package callback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/pkg/timeutil"
)

type mockReviewer struct{ mock.Mock }

func (m *mockReviewer) Handle(ctx context.Context, cmd command.ReviewHomeworkCommand) (*command.ReviewHomeworkResult, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*command.ReviewHomeworkResult)
	return res, args.Error(1)
}

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestReviewHandler_Approve(t *testing.T) {
	id := uuid.New()
	due := now.Add(24 * time.Hour)
	reviewer := new(mockReviewer)
	reviewer.On("Handle", mock.Anything, command.ReviewHomeworkCommand{
		Decision:   homework.Approve{ID: id},
		ReviewerID: 1,
	}).Return(&command.ReviewHomeworkResult{
		Submission:      homework.Submission{ID: id, Lesson: 1},
		Approved:        true,
		NextLesson:      2,
		NextLessonDueAt: &due,
	}, nil)

	h := NewReviewHandler(reviewer, timeutil.NewFakeClock(now), nil)
	resp, err := h.Handle(context.Background(), ReviewRequest{ReviewerID: 1, Data: homework.ApproveCallback(id)})
	require.NoError(t, err)

	assert.Contains(t, resp.AnswerText, "Урок 1 принят")
	assert.Contains(t, resp.AnswerText, "Урок 2")
	assert.True(t, resp.RemoveKeyboard)
	assert.False(t, resp.ShowAlert)
	reviewer.AssertExpectations(t)
}

func TestReviewHandler_ApproveCompletesCourse(t *testing.T) {
	id := uuid.New()
	reviewer := new(mockReviewer)
	reviewer.On("Handle", mock.Anything, mock.Anything).Return(&command.ReviewHomeworkResult{
		Submission:      homework.Submission{ID: id, Lesson: 5},
		Approved:        true,
		CourseCompleted: true,
	}, nil)

	h := NewReviewHandler(reviewer, nil, nil)
	resp, err := h.Handle(context.Background(), ReviewRequest{ReviewerID: 1, Data: homework.ApproveCallback(id)})
	require.NoError(t, err)
	assert.Contains(t, resp.AnswerText, "Курс пройден")
}

func TestReviewHandler_Reject(t *testing.T) {
	id := uuid.New()
	reviewer := new(mockReviewer)
	reviewer.On("Handle", mock.Anything, command.ReviewHomeworkCommand{
		Decision:   homework.Reject{ID: id},
		ReviewerID: 1,
	}).Return(&command.ReviewHomeworkResult{
		Submission: homework.Submission{ID: id, Lesson: 3},
	}, nil)

	h := NewReviewHandler(reviewer, nil, nil)
	resp, err := h.Handle(context.Background(), ReviewRequest{ReviewerID: 1, Data: homework.RejectCallback(id)})
	require.NoError(t, err)
	assert.Contains(t, resp.AnswerText, "отклонено")
	assert.True(t, resp.RemoveKeyboard)
}

func TestReviewHandler_Errors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantAlert      bool
		wantRemoveKbd  bool
		wantPropagated bool
	}{
		{name: "already reviewed", err: homework.ErrAlreadyReviewed, wantRemoveKbd: true},
		{name: "not found", err: homework.ErrSubmissionNotFound, wantAlert: true, wantRemoveKbd: true},
		{name: "state moved", err: &progression.StateError{}, wantAlert: true},
		{name: "unexpected", err: errors.New("db down"), wantPropagated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reviewer := new(mockReviewer)
			reviewer.On("Handle", mock.Anything, mock.Anything).Return(nil, tt.err)

			h := NewReviewHandler(reviewer, nil, nil)
			resp, err := h.Handle(context.Background(), ReviewRequest{ReviewerID: 1, Data: homework.ApproveCallback(uuid.New())})
			if tt.wantPropagated {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlert, resp.ShowAlert)
			assert.Equal(t, tt.wantRemoveKbd, resp.RemoveKeyboard)
		})
	}
}

func TestReviewHandler_BadData(t *testing.T) {
	reviewer := new(mockReviewer)
	h := NewReviewHandler(reviewer, nil, nil)

	resp, err := h.Handle(context.Background(), ReviewRequest{ReviewerID: 1, Data: "hw:approve:nope"})
	require.NoError(t, err)
	assert.True(t, resp.ShowAlert)
	reviewer.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}
