package progression

import (
	"context"
	"time"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// Enrollment binds a user to a course and tracks lesson progress.
// CurrentLesson never decreases.
type Enrollment struct {
	UserID        int64
	CourseID      string
	TierID        string
	CurrentLesson int
	EnrolledAt    time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// NewEnrollment creates an enrollment at lesson 1.
func NewEnrollment(userID int64, courseID, tierID string, now time.Time) (*Enrollment, error) {
	if !shared.IsValidUserID(userID) {
		return nil, shared.NewDomainError("progression", "NewEnrollment", shared.ErrInvalidInput, "invalid user id")
	}
	if !shared.IsValidCourseID(courseID) {
		return nil, shared.NewDomainError("progression", "NewEnrollment", shared.ErrInvalidInput, "invalid course id")
	}

	return &Enrollment{
		UserID:        userID,
		CourseID:      courseID,
		TierID:        tierID,
		CurrentLesson: 1,
		EnrolledAt:    now,
		UpdatedAt:     now,
	}, nil
}

// IsCompleted reports whether the last lesson was approved.
func (e *Enrollment) IsCompleted() bool {
	return e.CompletedAt != nil
}

// Advance moves from lesson `from` to from+1.
func (e *Enrollment) Advance(from int, now time.Time) error {
	if e.IsCompleted() {
		return ErrCourseAlreadyCompleted
	}
	if e.CurrentLesson != from {
		return ErrLessonMismatch
	}
	e.CurrentLesson = from + 1
	e.UpdatedAt = now
	return nil
}

// Complete marks the course as finished. CurrentLesson stays on the last lesson.
func (e *Enrollment) Complete(now time.Time) {
	if e.CompletedAt != nil {
		return
	}
	t := now
	e.CompletedAt = &t
	e.UpdatedAt = now
}

// Progression errors.
var (
	ErrAlreadyEnrolled        = shared.NewDomainError("progression", "Activate", shared.ErrAlreadyExists, "user is already enrolled in this course")
	ErrEnrollmentNotFound     = shared.NewDomainError("progression", "FindEnrollment", shared.ErrNotFound, "enrollment not found")
	ErrStateNotFound          = shared.NewDomainError("progression", "FindState", shared.ErrNotFound, "user has no course state")
	ErrLessonMismatch         = shared.NewDomainError("progression", "Advance", shared.ErrAlreadyProcessed, "current lesson changed concurrently")
	ErrCourseAlreadyCompleted = shared.NewDomainError("progression", "Advance", shared.ErrStateTransition, "course already completed")
)

// ═══════════════════════════════════════════════════════════════════════════
// REPOSITORY PORTS
// ═══════════════════════════════════════════════════════════════════════════

// EnrollmentRepository persists enrollments.
type EnrollmentRepository interface {
	// GetEnrollment returns ErrEnrollmentNotFound when absent.
	GetEnrollment(ctx context.Context, userID int64, courseID string) (*Enrollment, error)

	// CreateEnrollment is unique on (user, course) and returns ErrAlreadyEnrolled.
	CreateEnrollment(ctx context.Context, e *Enrollment) error

	// AdvanceLesson sets current_lesson = from+1 only if it still equals from.
	// Returns ErrLessonMismatch otherwise.
	AdvanceLesson(ctx context.Context, userID int64, courseID string, from int, now time.Time) error

	// MarkCompleted sets completed_at once.
	MarkCompleted(ctx context.Context, userID int64, courseID string, now time.Time) error

	// ListEnrollments returns the user's enrollments, newest first.
	ListEnrollments(ctx context.Context, userID int64) ([]*Enrollment, error)
}

// StateRepository persists the single live state row per user.
type StateRepository interface {
	// GetState returns ErrStateNotFound when absent.
	GetState(ctx context.Context, userID int64) (*UserState, error)

	// LockState is GetState for a transaction that will write the state.
	// It blocks other LockState callers for the same user until the
	// transaction ends, whether or not a row exists yet. Call it only
	// inside Store.WithinTx.
	LockState(ctx context.Context, userID int64) (*UserState, error)

	// UpsertState overwrites the user's state.
	UpsertState(ctx context.Context, s UserState) error

	// ListByState returns up to limit users in the given state.
	ListByState(ctx context.Context, state State, limit int) ([]UserState, error)
}
