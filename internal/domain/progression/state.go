// Package progression owns a user's walk through a course: enrollment,
// the per-user state machine and the events it emits.
package progression

import (
	"fmt"
	"time"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// State is the position of a user within the current lesson.
type State string

const (
	// StateWaitingLessonDelivery: lesson content is armed but not fully sent.
	StateWaitingLessonDelivery State = "waiting_lesson_delivery"
	// StateWaitingHomework: content delivered, awaiting a submission.
	StateWaitingHomework State = "waiting_homework"
	// StateWaitingApproval: submission pending admin review.
	StateWaitingApproval State = "waiting_approval"
	// StateCourseCompleted is terminal.
	StateCourseCompleted State = "course_completed"
)

// IsValid checks if the state is known.
func (s State) IsValid() bool {
	switch s {
	case StateWaitingLessonDelivery, StateWaitingHomework, StateWaitingApproval, StateCourseCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCourseCompleted
}

// UserState is the single live progression row of a user.
type UserState struct {
	UserID    int64
	State     State
	CourseID  string
	Lesson    int
	UpdatedAt time.Time
}

// Is reports whether the state matches s for the given course and lesson.
func (u UserState) Is(s State, courseID string, lesson int) bool {
	return u.State == s && u.CourseID == courseID && u.Lesson == lesson
}

// Trigger names the event that drives a transition.
type Trigger string

const (
	TriggerEnrolled          Trigger = "enrolled"
	TriggerLessonDelivered   Trigger = "lesson_delivered"
	TriggerHomeworkSubmitted Trigger = "homework_submitted"
	TriggerHomeworkApproved  Trigger = "homework_approved"
	TriggerHomeworkRejected  Trigger = "homework_rejected"
)

// Transition is a trigger scoped to a course lesson.
type Transition struct {
	Trigger  Trigger
	CourseID string
	Lesson   int

	// LastLesson marks an approval of the course's final lesson.
	LastLesson bool
}

// Enrolled starts a course at lesson 1.
func Enrolled(courseID string) Transition {
	return Transition{Trigger: TriggerEnrolled, CourseID: courseID, Lesson: 1}
}

// LessonDelivered reports that every content item of a lesson was sent.
func LessonDelivered(courseID string, lesson int) Transition {
	return Transition{Trigger: TriggerLessonDelivered, CourseID: courseID, Lesson: lesson}
}

// HomeworkSubmitted reports a new pending submission.
func HomeworkSubmitted(courseID string, lesson int) Transition {
	return Transition{Trigger: TriggerHomeworkSubmitted, CourseID: courseID, Lesson: lesson}
}

// HomeworkApproved reports an approval. lastLesson ends the course.
func HomeworkApproved(courseID string, lesson int, lastLesson bool) Transition {
	return Transition{Trigger: TriggerHomeworkApproved, CourseID: courseID, Lesson: lesson, LastLesson: lastLesson}
}

// HomeworkRejected reports a declined submission.
func HomeworkRejected(courseID string, lesson int) Transition {
	return Transition{Trigger: TriggerHomeworkRejected, CourseID: courseID, Lesson: lesson}
}

// ═══════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ═══════════════════════════════════════════════════════════════════════════

// ErrInvalidTransition matches every StateError via errors.Is.
var ErrInvalidTransition = shared.NewDomainError("progression", "Transition", shared.ErrStateTransition, "trigger not allowed in current state")

// StateError is returned when a trigger arrives in an unexpected state.
// The current state is left untouched.
type StateError struct {
	Transition Transition
	Current    *UserState
}

func (e *StateError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("progression: %s for %s lesson %d: user has no course state",
			e.Transition.Trigger, e.Transition.CourseID, e.Transition.Lesson)
	}
	return fmt.Sprintf("progression: %s for %s lesson %d not allowed in %s (%s lesson %d)",
		e.Transition.Trigger, e.Transition.CourseID, e.Transition.Lesson,
		e.Current.State, e.Current.CourseID, e.Current.Lesson)
}

// Is matches ErrInvalidTransition and shared.ErrStateTransition.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidTransition || target == shared.ErrStateTransition
}

// Apply computes the state that follows t. current is nil when the user
// has no state yet. When current already equals the target of t the
// transition is a no-op and changed is false.
func Apply(current *UserState, t Transition, now time.Time) (next UserState, changed bool, err error) {
	from, to, ok := edge(t)
	if !ok {
		return UserState{}, false, &StateError{Transition: t, Current: current}
	}

	if t.Trigger == TriggerEnrolled {
		if current == nil {
			return UserState{State: to.state, CourseID: t.CourseID, Lesson: to.lesson, UpdatedAt: now}, true, nil
		}
		if current.State.IsTerminal() && current.CourseID != t.CourseID {
			return UserState{UserID: current.UserID, State: to.state, CourseID: t.CourseID, Lesson: to.lesson, UpdatedAt: now}, true, nil
		}
	}

	if current == nil {
		return UserState{}, false, &StateError{Transition: t, Current: nil}
	}

	if current.Is(to.state, t.CourseID, to.lesson) {
		return *current, false, nil
	}

	if !current.Is(from, t.CourseID, t.Lesson) {
		return UserState{}, false, &StateError{Transition: t, Current: current}
	}

	return UserState{
		UserID:    current.UserID,
		State:     to.state,
		CourseID:  t.CourseID,
		Lesson:    to.lesson,
		UpdatedAt: now,
	}, true, nil
}

type target struct {
	state  State
	lesson int
}

// edge returns the required source state and the target of t.
func edge(t Transition) (State, target, bool) {
	if t.CourseID == "" || t.Lesson < 1 {
		return "", target{}, false
	}

	switch t.Trigger {
	case TriggerEnrolled:
		return "", target{StateWaitingLessonDelivery, 1}, true
	case TriggerLessonDelivered:
		return StateWaitingLessonDelivery, target{StateWaitingHomework, t.Lesson}, true
	case TriggerHomeworkSubmitted:
		return StateWaitingHomework, target{StateWaitingApproval, t.Lesson}, true
	case TriggerHomeworkApproved:
		if t.LastLesson {
			return StateWaitingApproval, target{StateCourseCompleted, t.Lesson}, true
		}
		return StateWaitingApproval, target{StateWaitingLessonDelivery, t.Lesson + 1}, true
	case TriggerHomeworkRejected:
		return StateWaitingApproval, target{StateWaitingHomework, t.Lesson}, true
	}
	return "", target{}, false
}
