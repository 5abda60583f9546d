// Package callback contains inline button callback handlers.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW CALLBACK HANDLER
// The approve/reject buttons under a homework file in the admin chat.
// Callback data is parsed once here into a typed decision.
// ══════════════════════════════════════════════════════════════════════════════

// Reviewer applies an admin decision.
type Reviewer interface {
	Handle(ctx context.Context, cmd command.ReviewHomeworkCommand) (*command.ReviewHomeworkResult, error)
}

// ReviewHandler handles the review buttons.
type ReviewHandler struct {
	reviewer Reviewer
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewReviewHandler creates a new ReviewHandler with dependencies.
func NewReviewHandler(reviewer Reviewer, clock timeutil.Clock, log *slog.Logger) *ReviewHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReviewHandler{
		reviewer: reviewer,
		clock:    clock,
		logger:   log.With(logger.Component("review_callback")),
	}
}

// ReviewRequest contains the callback.
type ReviewRequest struct {
	// ReviewerID is the admin who pressed the button.
	ReviewerID int64

	// Data is the raw callback data.
	Data string
}

// ReviewResponse tells the bot how to answer the button press.
type ReviewResponse struct {
	// AnswerText is the text to show in the callback answer toast.
	AnswerText string

	// ShowAlert determines if the answer should be shown as an alert.
	ShowAlert bool

	// RemoveKeyboard removes the buttons from the reviewed message.
	RemoveKeyboard bool
}

// Handle processes a review button press.
func (h *ReviewHandler) Handle(ctx context.Context, req ReviewRequest) (*ReviewResponse, error) {
	decision, err := homework.ParseCallback(req.Data)
	if err != nil {
		return &ReviewResponse{AnswerText: "Некорректная кнопка.", ShowAlert: true}, nil
	}

	res, err := h.reviewer.Handle(ctx, command.ReviewHomeworkCommand{
		Decision:   decision,
		ReviewerID: req.ReviewerID,
	})
	switch {
	case errors.Is(err, homework.ErrAlreadyReviewed):
		return &ReviewResponse{AnswerText: "Это задание уже проверено.", RemoveKeyboard: true}, nil
	case errors.Is(err, homework.ErrSubmissionNotFound):
		return &ReviewResponse{AnswerText: "Задание не найдено.", ShowAlert: true, RemoveKeyboard: true}, nil
	case errors.Is(err, shared.ErrStateTransition):
		h.logger.Warn("review does not match user state", "data", req.Data, logger.Err(err))
		return &ReviewResponse{AnswerText: "Состояние пользователя изменилось, проверьте /pending.", ShowAlert: true}, nil
	case err != nil:
		return nil, fmt.Errorf("review callback: %w", err)
	}

	return &ReviewResponse{AnswerText: answerText(res, h.clock), RemoveKeyboard: true}, nil
}

func answerText(res *command.ReviewHomeworkResult, clock timeutil.Clock) string {
	lesson := res.Submission.Lesson
	switch {
	case !res.Approved:
		return fmt.Sprintf("❌ Урок %d: задание отклонено.", lesson)
	case res.CourseCompleted:
		return fmt.Sprintf("✅ Урок %d принят. Курс пройден.", lesson)
	case res.NextLessonDueAt != nil:
		return fmt.Sprintf("✅ Урок %d принят. Урок %d %s.",
			lesson, res.NextLesson, timeutil.FormatUntil(clock.Now(), *res.NextLessonDueAt))
	default:
		return fmt.Sprintf("✅ Урок %d принят.", lesson)
	}
}
