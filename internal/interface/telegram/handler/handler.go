// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call
// application layer → format response. Expected domain errors become a
// user-facing Response; anything else is returned as an error and the bot
// answers with a generic apology.
package handler

import (
	"context"
	"errors"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// Request is the transport-independent part of an incoming message.
type Request struct {
	// UserID is the sender's Telegram ID.
	UserID int64

	// ChatID is the chat to answer in.
	ChatID int64

	// FirstName is the sender's first name from Telegram.
	FirstName string

	// Args is the text after the command, or the whole text of a plain message.
	Args string

	// IsAdmin is set by the auth middleware.
	IsAdmin bool
}

// Response contains the reply to send back.
type Response struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

func reply(text string, kb *presenter.InlineKeyboard) *Response {
	return &Response{Text: text, Keyboard: kb, ParseMode: "HTML"}
}

func replyError(text string) *Response {
	return &Response{Text: text, ParseMode: "HTML", IsError: true}
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Activator activates a course by code.
type Activator interface {
	Handle(ctx context.Context, cmd command.ActivateCourseCommand) (*command.ActivateCourseResult, error)
}

// Submitter stores a homework submission.
type Submitter interface {
	Handle(ctx context.Context, cmd command.SubmitHomeworkCommand) (*command.SubmitHomeworkResult, error)
}

// Reviewer applies an admin decision.
type Reviewer interface {
	Handle(ctx context.Context, cmd command.ReviewHomeworkCommand) (*command.ReviewHomeworkResult, error)
}

// Redeliverer re-sends failed lesson content.
type Redeliverer interface {
	Handle(ctx context.Context, cmd command.RedeliverLessonCommand) (lesson.RedeliveryReport, error)
}

// ProgressReader reads the user's course position.
type ProgressReader interface {
	Handle(ctx context.Context, q query.GetProgressQuery) (*query.ProgressView, error)
}

// PendingLister lists submissions waiting for review.
type PendingLister interface {
	Handle(ctx context.Context, q query.ListPendingHomeworkQuery) ([]query.PendingHomework, error)
}

// FeatureGate reports whether an optional behavior is on.
type FeatureGate interface {
	IsEnabled(name string, ctx *config.FeatureContext) bool
}

type allFeatures struct{}

func (allFeatures) IsEnabled(string, *config.FeatureContext) bool { return true }

func gateOrAll(g FeatureGate) FeatureGate {
	if g == nil {
		return allFeatures{}
	}
	return g
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR TEXTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	textInvalidCode      = "❌ Неверный код активации. Проверьте код и попробуйте ещё раз."
	textAlreadyEnrolled  = "Вы уже записаны на этот курс. Прогресс: /progress"
	textCourseInProgress = "У вас уже есть незавершённый курс. Новый курс можно активировать после его завершения."
	textNeedCode         = "Укажите код: <code>/activate КОД</code>"
	textDuplicate        = "⏳ Ваше задание уже на проверке. Дождитесь ответа."
	textNotYet           = "Сейчас задание отправить нельзя: дождитесь всех материалов урока."
	textCourseCompleted  = "🎉 Курс уже пройден. Задания больше не нужны."
	textOnlyPhoto        = "Пожалуйста, отправьте решение фотографией."
	textAlreadyReviewed  = "Это задание уже проверено."
	textNotFound         = "Задание не найдено."
	textBadInput         = "Некорректный запрос."
)

// submitErrorText maps an expected SubmitHomework error to a reply.
func submitErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, homework.ErrDuplicateSubmission):
		return textDuplicate, true
	case errors.Is(err, progression.ErrStateNotFound):
		return presenter.NoCourse(), true
	case errors.Is(err, progression.ErrInvalidTransition):
		var se *progression.StateError
		if errors.As(err, &se) && se.Current != nil {
			switch se.Current.State {
			case progression.StateWaitingApproval:
				return textDuplicate, true
			case progression.StateCourseCompleted:
				return textCourseCompleted, true
			}
		}
		if errors.As(err, &se) && se.Current == nil {
			return presenter.NoCourse(), true
		}
		return textNotYet, true
	case errors.Is(err, shared.ErrValidation):
		return textBadInput, true
	}
	return "", false
}

// activateErrorText maps an expected ActivateCourse error to a reply.
func activateErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, course.ErrInvalidCode):
		return textInvalidCode, true
	case errors.Is(err, progression.ErrAlreadyEnrolled):
		return textAlreadyEnrolled, true
	case errors.Is(err, progression.ErrInvalidTransition):
		return textCourseInProgress, true
	case errors.Is(err, shared.ErrValidation):
		return textNeedCode, true
	}
	return "", false
}

// reviewErrorText maps an expected ReviewHomework error to a reply.
func reviewErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, homework.ErrAlreadyReviewed):
		return textAlreadyReviewed, true
	case errors.Is(err, homework.ErrSubmissionNotFound):
		return textNotFound, true
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		return textBadInput, true
	}
	return "", false
}
