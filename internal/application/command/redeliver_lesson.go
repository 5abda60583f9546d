package command

import (
	"context"
	"log/slog"

	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDELIVER LESSON COMMAND
// Operator resolution of failed content dispatches.
// ══════════════════════════════════════════════════════════════════════════════

// RedeliverLessonCommand asks to re-send the failed items of a user's
// current lesson.
type RedeliverLessonCommand struct {
	UserID      int64 `validate:"gt=0"`
	RequestedBy int64 `validate:"gt=0"`
}

// RedeliverLessonHandler handles the RedeliverLessonCommand.
type RedeliverLessonHandler struct {
	lessons *lesson.Service
	logger  *slog.Logger
}

// NewRedeliverLessonHandler creates a new RedeliverLessonHandler.
func NewRedeliverLessonHandler(lessons *lesson.Service, log *slog.Logger) *RedeliverLessonHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RedeliverLessonHandler{
		lessons: lessons,
		logger:  log.With(logger.Component("redeliver_lesson")),
	}
}

// Handle re-sends the failed rows. The report is returned even when some
// rows failed again.
func (h *RedeliverLessonHandler) Handle(ctx context.Context, cmd RedeliverLessonCommand) (lesson.RedeliveryReport, error) {
	if err := validateCommand("RedeliverLesson", cmd); err != nil {
		return lesson.RedeliveryReport{}, err
	}

	report, err := h.lessons.Redeliver(ctx, cmd.UserID)
	h.logger.Info("redelivery requested",
		logger.UserID(cmd.UserID),
		"requested_by", cmd.RequestedBy,
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"lesson_complete", report.LessonComplete,
		logger.Err(err),
	)
	return report, err
}
