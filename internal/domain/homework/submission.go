// Package homework models homework submissions and their review.
package homework

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// Status of a submission. Pending is the only non-terminal status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

// IsTerminal reports whether the submission has been reviewed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// FileKind is the Telegram media type of the submitted file.
type FileKind string

const (
	FilePhoto    FileKind = "photo"
	FileDocument FileKind = "document"
)

// ContentRef is an opaque handle to the submitted file.
type ContentRef struct {
	FileID string
	Kind   FileKind
}

// Submission is one homework attempt for a lesson.
type Submission struct {
	ID              uuid.UUID
	UserID          int64
	CourseID        string
	Lesson          int
	Status          Status
	Content         ContentRef
	SubmittedAt     time.Time
	ReviewerID      int64
	ReviewComment   string
	ReviewedAt      *time.Time
	NextLessonDueAt *time.Time
}

// NewSubmission creates a pending submission.
func NewSubmission(userID int64, courseID string, lesson int, ref ContentRef, now time.Time) (*Submission, error) {
	if ref.FileID == "" {
		return nil, ErrEmptyContent
	}
	if !shared.IsValidLesson(lesson) {
		return nil, shared.NewDomainError("homework", "Submit", shared.ErrInvalidInput, "invalid lesson")
	}

	return &Submission{
		ID:          uuid.New(),
		UserID:      userID,
		CourseID:    courseID,
		Lesson:      lesson,
		Status:      StatusPending,
		Content:     ref,
		SubmittedAt: now,
	}, nil
}

// Approve records an approval. nextDue is nil on the last lesson.
func (s *Submission) Approve(reviewerID int64, nextDue *time.Time, now time.Time) error {
	if s.Status != StatusPending {
		return ErrAlreadyReviewed
	}
	s.Status = StatusApproved
	s.ReviewerID = reviewerID
	s.ReviewedAt = &now
	s.NextLessonDueAt = nextDue
	return nil
}

// Decline records a rejection with the reviewer's comment.
func (s *Submission) Decline(reviewerID int64, comment string, now time.Time) error {
	if s.Status != StatusPending {
		return ErrAlreadyReviewed
	}
	s.Status = StatusDeclined
	s.ReviewerID = reviewerID
	s.ReviewComment = comment
	s.ReviewedAt = &now
	return nil
}

// Homework errors.
var (
	ErrSubmissionNotFound  = shared.NewDomainError("homework", "Find", shared.ErrNotFound, "submission not found")
	ErrDuplicateSubmission = shared.NewDomainError("homework", "Submit", shared.ErrAlreadyExists, "a submission for this lesson is already pending")
	ErrAlreadyReviewed     = shared.NewDomainError("homework", "Review", shared.ErrAlreadyProcessed, "submission already reviewed")
	ErrEmptyContent        = shared.NewDomainError("homework", "Submit", shared.ErrInvalidInput, "submission has no file")
)

// Repository persists submissions.
type Repository interface {
	// InsertSubmission returns ErrDuplicateSubmission when a pending row
	// already exists for (user, course, lesson).
	InsertSubmission(ctx context.Context, s *Submission) error

	// GetSubmission returns ErrSubmissionNotFound when absent.
	GetSubmission(ctx context.Context, id uuid.UUID) (*Submission, error)

	// UpdateReview persists a review only while the stored row is pending.
	// Returns ErrAlreadyReviewed otherwise.
	UpdateReview(ctx context.Context, s *Submission) error

	// ListPending returns the oldest pending submissions first.
	ListPending(ctx context.Context, limit int) ([]*Submission, error)

	// CountPending counts a user's pending submissions.
	CountPending(ctx context.Context, userID int64) (int, error)
}
