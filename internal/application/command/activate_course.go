package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVATE COURSE COMMAND
// Resolves an activation code and enrolls the user exactly once.
// ══════════════════════════════════════════════════════════════════════════════

// ActivateCourseCommand contains the data to activate a course.
type ActivateCourseCommand struct {
	UserID int64  `validate:"gt=0"`
	Code   string `validate:"required,max=128"`
}

// ActivateCourseResult describes a successful activation.
type ActivateCourseResult struct {
	CourseID   string
	CourseName string
	TierID     string
	TierName   string

	// Armed is false when lesson 1 has no content yet; the reconcile
	// loop arms it once content appears.
	Armed bool

	ActivatedAt time.Time
}

// ActivateCourseHandler handles the ActivateCourseCommand.
type ActivateCourseHandler struct {
	store     repository.Store
	catalog   course.Catalog
	content   course.ContentRepository
	lessons   *lesson.Service
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewActivateCourseHandler creates a new ActivateCourseHandler.
func NewActivateCourseHandler(
	store repository.Store,
	catalog course.Catalog,
	content course.ContentRepository,
	lessons *lesson.Service,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *ActivateCourseHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ActivateCourseHandler{
		store:     store,
		catalog:   catalog,
		content:   content,
		lessons:   lessons,
		publisher: publisher,
		clock:     clock,
		logger:    log.With(logger.Component("activate_course")),
	}
}

// Handle executes the activation. Enrollment, initial state and lesson 1
// rows are written in one transaction; on any error nothing is kept.
func (h *ActivateCourseHandler) Handle(ctx context.Context, cmd ActivateCourseCommand) (*ActivateCourseResult, error) {
	if err := validateCommand("ActivateCourse", cmd); err != nil {
		return nil, err
	}

	act, err := h.catalog.Resolve(ctx, cmd.Code)
	if err != nil {
		return nil, err
	}

	items, err := h.content.ListLessonContent(ctx, act.CourseID, 1)
	if err != nil && !errors.Is(err, course.ErrLessonNotFound) {
		return nil, fmt.Errorf("activate_course: list lesson 1: %w", err)
	}

	now := h.clock.Now()
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		// Locked first so two activations by one user run one after the other.
		current, err := tx.States().LockState(ctx, cmd.UserID)
		if err != nil && !errors.Is(err, progression.ErrStateNotFound) {
			return err
		}

		if _, err := tx.Enrollments().GetEnrollment(ctx, cmd.UserID, act.CourseID); err == nil {
			return progression.ErrAlreadyEnrolled
		} else if !errors.Is(err, progression.ErrEnrollmentNotFound) {
			return err
		}

		next, _, err := progression.Apply(current, progression.Enrolled(act.CourseID), now)
		if err != nil {
			return err
		}
		next.UserID = cmd.UserID

		enrollment, err := progression.NewEnrollment(cmd.UserID, act.CourseID, act.TierID, now)
		if err != nil {
			return err
		}
		if err := tx.Enrollments().CreateEnrollment(ctx, enrollment); err != nil {
			return err
		}
		if err := tx.States().UpsertState(ctx, next); err != nil {
			return err
		}

		if len(items) == 0 {
			return nil
		}
		return h.lessons.ArmLesson(ctx, tx.Deliveries(), cmd.UserID, act.CourseID, 1, items, now)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("course activated",
		logger.UserID(cmd.UserID),
		logger.CourseID(act.CourseID),
		"tier", act.TierID,
		"lesson1_items", len(items),
	)
	_ = h.publisher.Publish(progression.NewCourseActivatedEvent(cmd.UserID, act.CourseID, act.TierID, now))

	return &ActivateCourseResult{
		CourseID:    act.CourseID,
		CourseName:  act.CourseName,
		TierID:      act.TierID,
		TierName:    act.TierName,
		Armed:       len(items) > 0,
		ActivatedAt: now,
	}, nil
}
