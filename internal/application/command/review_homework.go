package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW HOMEWORK COMMAND
// Applies an admin decision. Approval advances the user and arms the next
// lesson; rejection sends the user back to homework for the same lesson.
// ══════════════════════════════════════════════════════════════════════════════

// ReviewHomeworkCommand carries a typed admin decision.
type ReviewHomeworkCommand struct {
	Decision   homework.Decision `validate:"required"`
	ReviewerID int64             `validate:"gt=0"`
}

// ReviewHomeworkResult describes the outcome of a review.
type ReviewHomeworkResult struct {
	Submission homework.Submission
	Approved   bool

	// NextLesson is zero when the approval completed the course.
	NextLesson      int
	NextLessonDueAt *time.Time
	CourseCompleted bool
}

// ReviewHomeworkHandler handles the ReviewHomeworkCommand.
type ReviewHomeworkHandler struct {
	store     repository.Store
	content   course.ContentRepository
	lessons   *lesson.Service
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewReviewHomeworkHandler creates a new ReviewHomeworkHandler.
func NewReviewHomeworkHandler(
	store repository.Store,
	content course.ContentRepository,
	lessons *lesson.Service,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *ReviewHomeworkHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReviewHomeworkHandler{
		store:     store,
		content:   content,
		lessons:   lessons,
		publisher: publisher,
		clock:     clock,
		logger:    log.With(logger.Component("review_homework")),
	}
}

// Handle applies the decision. A submission that is no longer pending
// yields homework.ErrAlreadyReviewed, so a repeated click never advances
// the user twice.
func (h *ReviewHomeworkHandler) Handle(ctx context.Context, cmd ReviewHomeworkCommand) (*ReviewHomeworkResult, error) {
	if err := validateCommand("ReviewHomework", cmd); err != nil {
		return nil, err
	}
	id := cmd.Decision.Submission()
	if id == uuid.Nil {
		return nil, shared.NewDomainError("command", "ReviewHomework", shared.ErrValidation, "submission id is required")
	}

	sub, err := h.store.Homework().GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, homework.ErrAlreadyReviewed
	}

	switch d := cmd.Decision.(type) {
	case homework.Approve:
		return h.approve(ctx, sub, cmd.ReviewerID)
	case homework.Reject:
		return h.reject(ctx, sub, cmd.ReviewerID, strings.TrimSpace(d.Reason))
	default:
		return nil, fmt.Errorf("review_homework: unknown decision %T", d)
	}
}

func (h *ReviewHomeworkHandler) approve(ctx context.Context, pending *homework.Submission, reviewerID int64) (*ReviewHomeworkResult, error) {
	nextLesson := pending.Lesson + 1

	items, err := h.content.ListLessonContent(ctx, pending.CourseID, nextLesson)
	last := errors.Is(err, course.ErrLessonNotFound)
	if err != nil && !last {
		return nil, fmt.Errorf("review_homework: list lesson %d: %w", nextLesson, err)
	}

	now := h.clock.Now()
	var nextDue *time.Time
	if !last {
		due := now.Add(h.lessons.Policy().NextLessonDelay())
		nextDue = &due
	}

	var sub *homework.Submission
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		var err error
		sub, err = tx.Homework().GetSubmission(ctx, pending.ID)
		if err != nil {
			return err
		}
		if err := sub.Approve(reviewerID, nextDue, now); err != nil {
			return err
		}
		if err := tx.Homework().UpdateReview(ctx, sub); err != nil {
			return err
		}

		current, err := tx.States().LockState(ctx, sub.UserID)
		if err != nil && !errors.Is(err, progression.ErrStateNotFound) {
			return err
		}
		next, changed, err := progression.Apply(current, progression.HomeworkApproved(sub.CourseID, sub.Lesson, last), now)
		if err != nil {
			return err
		}

		if last {
			if err := tx.Enrollments().MarkCompleted(ctx, sub.UserID, sub.CourseID, now); err != nil {
				return err
			}
		} else {
			if err := tx.Enrollments().AdvanceLesson(ctx, sub.UserID, sub.CourseID, sub.Lesson, now); err != nil {
				return err
			}
			if err := h.lessons.ArmLesson(ctx, tx.Deliveries(), sub.UserID, sub.CourseID, nextLesson, items, *nextDue); err != nil {
				return err
			}
		}

		if !changed {
			return nil
		}
		next.UserID = sub.UserID
		return tx.States().UpsertState(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	result := &ReviewHomeworkResult{
		Submission:      *sub,
		Approved:        true,
		NextLessonDueAt: nextDue,
		CourseCompleted: last,
	}
	if !last {
		result.NextLesson = nextLesson
	}

	h.logger.Info("homework approved",
		logger.UserID(sub.UserID),
		logger.CourseID(sub.CourseID),
		logger.Lesson(sub.Lesson),
		"submission_id", sub.ID,
		"reviewer_id", reviewerID,
		"course_completed", last,
	)

	_ = h.publisher.Publish(homework.NewApprovedEvent(*sub, result.NextLesson, now))
	if last {
		_ = h.publisher.Publish(progression.NewCourseCompletedEvent(sub.UserID, sub.CourseID, sub.Lesson, now))
	}
	return result, nil
}

func (h *ReviewHomeworkHandler) reject(ctx context.Context, pending *homework.Submission, reviewerID int64, reason string) (*ReviewHomeworkResult, error) {
	now := h.clock.Now()

	var sub *homework.Submission
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		var err error
		sub, err = tx.Homework().GetSubmission(ctx, pending.ID)
		if err != nil {
			return err
		}
		if err := sub.Decline(reviewerID, reason, now); err != nil {
			return err
		}
		if err := tx.Homework().UpdateReview(ctx, sub); err != nil {
			return err
		}

		current, err := tx.States().LockState(ctx, sub.UserID)
		if err != nil && !errors.Is(err, progression.ErrStateNotFound) {
			return err
		}
		next, changed, err := progression.Apply(current, progression.HomeworkRejected(sub.CourseID, sub.Lesson), now)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		next.UserID = sub.UserID
		return tx.States().UpsertState(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("homework rejected",
		logger.UserID(sub.UserID),
		logger.CourseID(sub.CourseID),
		logger.Lesson(sub.Lesson),
		"submission_id", sub.ID,
		"reviewer_id", reviewerID,
	)
	_ = h.publisher.Publish(homework.NewRejectedEvent(*sub, now))

	return &ReviewHomeworkResult{Submission: *sub}, nil
}
