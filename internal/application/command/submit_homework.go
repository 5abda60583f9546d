package command

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT HOMEWORK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// SubmitHomeworkCommand contains a homework file sent by the user.
// CourseID and Lesson may be left empty; the user's live state supplies them.
type SubmitHomeworkCommand struct {
	UserID   int64             `validate:"gt=0"`
	CourseID string            `validate:"omitempty,course_id"`
	Lesson   int               `validate:"gte=0"`
	FileID   string            `validate:"required"`
	Kind     homework.FileKind `validate:"oneof=photo document"`
}

// SubmitHomeworkResult describes the stored submission.
type SubmitHomeworkResult struct {
	SubmissionID uuid.UUID
	CourseID     string
	Lesson       int
}

// SubmitHomeworkHandler handles the SubmitHomeworkCommand.
type SubmitHomeworkHandler struct {
	store     repository.Store
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewSubmitHomeworkHandler creates a new SubmitHomeworkHandler.
func NewSubmitHomeworkHandler(store repository.Store, publisher shared.EventPublisher, clock timeutil.Clock, log *slog.Logger) *SubmitHomeworkHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &SubmitHomeworkHandler{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    log.With(logger.Component("submit_homework")),
	}
}

// Handle stores a pending submission and moves the user to
// WaitingApproval. Admins are notified through SubmittedEvent; the
// submission does not depend on that notification.
func (h *SubmitHomeworkHandler) Handle(ctx context.Context, cmd SubmitHomeworkCommand) (*SubmitHomeworkResult, error) {
	if err := validateCommand("SubmitHomework", cmd); err != nil {
		return nil, err
	}

	now := h.clock.Now()
	var sub *homework.Submission

	err := h.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		current, err := tx.States().LockState(ctx, cmd.UserID)
		if err != nil && !errors.Is(err, progression.ErrStateNotFound) {
			return err
		}

		courseID, lessonNo := cmd.CourseID, cmd.Lesson
		if current != nil {
			if courseID == "" {
				courseID = current.CourseID
			}
			if lessonNo == 0 {
				lessonNo = current.Lesson
			}
		}

		next, changed, err := progression.Apply(current, progression.HomeworkSubmitted(courseID, lessonNo), now)
		if err != nil {
			return err
		}

		sub, err = homework.NewSubmission(cmd.UserID, courseID, lessonNo, homework.ContentRef{FileID: cmd.FileID, Kind: cmd.Kind}, now)
		if err != nil {
			return err
		}
		if err := tx.Homework().InsertSubmission(ctx, sub); err != nil {
			return err
		}

		if !changed {
			return nil
		}
		next.UserID = cmd.UserID
		return tx.States().UpsertState(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("homework submitted",
		logger.UserID(cmd.UserID),
		logger.CourseID(sub.CourseID),
		logger.Lesson(sub.Lesson),
		"submission_id", sub.ID,
	)
	_ = h.publisher.Publish(homework.NewSubmittedEvent(*sub, now))

	return &SubmitHomeworkResult{
		SubmissionID: sub.ID,
		CourseID:     sub.CourseID,
		Lesson:       sub.Lesson,
	}, nil
}
