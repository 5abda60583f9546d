package progression

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/domain/shared"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func st(s State, lesson int) *UserState {
	return &UserState{UserID: 42, State: s, CourseID: "intro", Lesson: lesson}
}

func TestApply_HappyPath(t *testing.T) {
	tests := []struct {
		name    string
		current *UserState
		tr      Transition
		want    UserState
	}{
		{
			name: "enroll without state",
			tr:   Enrolled("intro"),
			want: UserState{State: StateWaitingLessonDelivery, CourseID: "intro", Lesson: 1},
		},
		{
			name:    "lesson delivered",
			current: st(StateWaitingLessonDelivery, 1),
			tr:      LessonDelivered("intro", 1),
			want:    UserState{UserID: 42, State: StateWaitingHomework, CourseID: "intro", Lesson: 1},
		},
		{
			name:    "homework submitted",
			current: st(StateWaitingHomework, 1),
			tr:      HomeworkSubmitted("intro", 1),
			want:    UserState{UserID: 42, State: StateWaitingApproval, CourseID: "intro", Lesson: 1},
		},
		{
			name:    "approved advances one lesson",
			current: st(StateWaitingApproval, 1),
			tr:      HomeworkApproved("intro", 1, false),
			want:    UserState{UserID: 42, State: StateWaitingLessonDelivery, CourseID: "intro", Lesson: 2},
		},
		{
			name:    "approved on last lesson completes",
			current: st(StateWaitingApproval, 3),
			tr:      HomeworkApproved("intro", 3, true),
			want:    UserState{UserID: 42, State: StateCourseCompleted, CourseID: "intro", Lesson: 3},
		},
		{
			name:    "rejected returns to same lesson",
			current: st(StateWaitingApproval, 2),
			tr:      HomeworkRejected("intro", 2),
			want:    UserState{UserID: 42, State: StateWaitingHomework, CourseID: "intro", Lesson: 2},
		},
		{
			name:    "enroll in another course after completion",
			current: &UserState{UserID: 42, State: StateCourseCompleted, CourseID: "basics", Lesson: 5},
			tr:      Enrolled("intro"),
			want:    UserState{UserID: 42, State: StateWaitingLessonDelivery, CourseID: "intro", Lesson: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := Apply(tt.current, tt.tr, now)
			require.NoError(t, err)
			assert.True(t, changed)

			tt.want.UpdatedAt = now
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_ReapplyingIsNoOp(t *testing.T) {
	tests := []struct {
		name    string
		current *UserState
		tr      Transition
	}{
		{"enrolled", st(StateWaitingLessonDelivery, 1), Enrolled("intro")},
		{"delivered", st(StateWaitingHomework, 1), LessonDelivered("intro", 1)},
		{"submitted", st(StateWaitingApproval, 1), HomeworkSubmitted("intro", 1)},
		{"approved", st(StateWaitingLessonDelivery, 2), HomeworkApproved("intro", 1, false)},
		{"approved last", st(StateCourseCompleted, 4), HomeworkApproved("intro", 4, true)},
		{"rejected", st(StateWaitingHomework, 2), HomeworkRejected("intro", 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := Apply(tt.current, tt.tr, now)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, *tt.current, got)
		})
	}
}

func TestApply_RejectsUnexpectedTriggers(t *testing.T) {
	tests := []struct {
		name    string
		current *UserState
		tr      Transition
	}{
		{"submit while content pending", st(StateWaitingLessonDelivery, 1), HomeworkSubmitted("intro", 1)},
		{"submit for another lesson", st(StateWaitingHomework, 2), HomeworkSubmitted("intro", 1)},
		{"submit for another course", st(StateWaitingHomework, 1), HomeworkSubmitted("basics", 1)},
		{"approve without submission", st(StateWaitingHomework, 1), HomeworkApproved("intro", 1, false)},
		{"reject while content pending", st(StateWaitingLessonDelivery, 3), HomeworkRejected("intro", 2)},
		{"delivered after completion", st(StateCourseCompleted, 3), LessonDelivered("intro", 3)},
		{"enroll while another course runs", st(StateWaitingHomework, 2), Enrolled("basics")},
		{"trigger without state", nil, LessonDelivered("intro", 1)},
		{"unknown trigger", st(StateWaitingHomework, 1), Transition{Trigger: "bogus", CourseID: "intro", Lesson: 1}},
		{"invalid lesson", st(StateWaitingHomework, 1), HomeworkSubmitted("intro", 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, changed, err := Apply(tt.current, tt.tr, now)
			require.Error(t, err)
			assert.False(t, changed)

			var se *StateError
			assert.True(t, errors.As(err, &se))
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.ErrorIs(t, err, shared.ErrStateTransition)
		})
	}
}

func TestEnrollment_Advance(t *testing.T) {
	e, err := NewEnrollment(42, "intro", "basic", now)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CurrentLesson)

	require.NoError(t, e.Advance(1, now))
	assert.Equal(t, 2, e.CurrentLesson)

	assert.ErrorIs(t, e.Advance(1, now), ErrLessonMismatch)
	assert.Equal(t, 2, e.CurrentLesson)

	e.Complete(now)
	assert.True(t, e.IsCompleted())
	assert.ErrorIs(t, e.Advance(2, now), ErrCourseAlreadyCompleted)
}

func TestNewEnrollment_Validates(t *testing.T) {
	_, err := NewEnrollment(0, "intro", "basic", now)
	assert.True(t, shared.IsValidation(err))

	_, err = NewEnrollment(42, "Intro Course", "basic", now)
	assert.True(t, shared.IsValidation(err))
}
