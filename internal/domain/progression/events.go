package progression

import (
	"strconv"
	"time"

	"github.com/antbot/course-bot/internal/domain/shared"
)

func aggregateID(userID int64, courseID string) string {
	return strconv.FormatInt(userID, 10) + ":" + courseID
}

// CourseActivatedEvent is emitted after a successful activation.
type CourseActivatedEvent struct {
	shared.BaseEvent
	UserID   int64
	CourseID string
	TierID   string
}

// NewCourseActivatedEvent creates a CourseActivatedEvent.
func NewCourseActivatedEvent(userID int64, courseID, tierID string, at time.Time) CourseActivatedEvent {
	return CourseActivatedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCourseActivated, aggregateID(userID, courseID), at),
		UserID:    userID,
		CourseID:  courseID,
		TierID:    tierID,
	}
}

// LessonDeliveredEvent is emitted when every item of a lesson has been sent
// and the user now owes homework.
type LessonDeliveredEvent struct {
	shared.BaseEvent
	UserID   int64
	CourseID string
	Lesson   int
}

// NewLessonDeliveredEvent creates a LessonDeliveredEvent.
func NewLessonDeliveredEvent(userID int64, courseID string, lesson int, at time.Time) LessonDeliveredEvent {
	return LessonDeliveredEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventLessonDelivered, aggregateID(userID, courseID), at),
		UserID:    userID,
		CourseID:  courseID,
		Lesson:    lesson,
	}
}

// CourseCompletedEvent is emitted when the last lesson is approved.
type CourseCompletedEvent struct {
	shared.BaseEvent
	UserID   int64
	CourseID string
	Lesson   int
}

// NewCourseCompletedEvent creates a CourseCompletedEvent.
func NewCourseCompletedEvent(userID int64, courseID string, lesson int, at time.Time) CourseCompletedEvent {
	return CourseCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCourseCompleted, aggregateID(userID, courseID), at),
		UserID:    userID,
		CourseID:  courseID,
		Lesson:    lesson,
	}
}
