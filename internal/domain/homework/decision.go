package homework

import (
	"time"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// Decision is an admin verdict on a submission: Approve or Reject.
type Decision interface {
	Submission() uuid.UUID
	decision()
}

// Approve accepts a submission and advances the user.
type Approve struct {
	ID uuid.UUID
}

// Reject declines a submission. Reason is shown to the user.
type Reject struct {
	ID     uuid.UUID
	Reason string
}

func (d Approve) Submission() uuid.UUID { return d.ID }
func (d Reject) Submission() uuid.UUID  { return d.ID }

func (Approve) decision() {}
func (Reject) decision()  {}

// ═══════════════════════════════════════════════════════════════════════════
// EVENTS
// ═══════════════════════════════════════════════════════════════════════════

// SubmittedEvent is emitted after a submission is stored.
type SubmittedEvent struct {
	shared.BaseEvent
	Submission Submission
}

// NewSubmittedEvent creates a SubmittedEvent.
func NewSubmittedEvent(s Submission, at time.Time) SubmittedEvent {
	return SubmittedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventHomeworkSubmitted, s.ID.String(), at),
		Submission: s,
	}
}

// ApprovedEvent is emitted after an approval. NextLessonDueAt is nil when
// the approval completed the course.
type ApprovedEvent struct {
	shared.BaseEvent
	Submission Submission
	NextLesson int
}

// NewApprovedEvent creates an ApprovedEvent.
func NewApprovedEvent(s Submission, nextLesson int, at time.Time) ApprovedEvent {
	return ApprovedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventHomeworkApproved, s.ID.String(), at),
		Submission: s,
		NextLesson: nextLesson,
	}
}

// RejectedEvent is emitted after a rejection.
type RejectedEvent struct {
	shared.BaseEvent
	Submission Submission
}

// NewRejectedEvent creates a RejectedEvent.
func NewRejectedEvent(s Submission, at time.Time) RejectedEvent {
	return RejectedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventHomeworkRejected, s.ID.String(), at),
		Submission: s,
	}
}
