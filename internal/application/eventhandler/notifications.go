// Package eventhandler содержит обработчики доменных событий.
// Все уведомления пользователям и администраторам отправляются отсюда.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/notification"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION HANDLERS
// Превращают доменные события в сообщения. Ошибки отправки возвращаются
// шине событий, которая их логирует; на бизнес-операции они не влияют.
// ═══════════════════════════════════════════════════════════════════════════

// FeatureGate - проверка feature flags.
type FeatureGate interface {
	IsEnabled(name string, ctx *config.FeatureContext) bool
}

// Admins - получатели служебных уведомлений.
type Admins struct {
	IDs     []int64
	GroupID int64
}

// Chats возвращает чаты без повторов: сначала группа, затем админы.
func (a Admins) Chats() []int64 {
	seen := make(map[int64]bool)
	var out []int64
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(a.GroupID)
	for _, id := range a.IDs {
		add(id)
	}
	return out
}

// NotificationHandlers обрабатывает события прогресса и домашних заданий.
type NotificationHandlers struct {
	sender      notification.Sender
	catalog     course.Catalog
	enrollments progression.EnrollmentRepository
	admins      Admins
	flags       FeatureGate
	clock       timeutil.Clock
	logger      *slog.Logger
}

// NewNotificationHandlers создаёт обработчики уведомлений.
func NewNotificationHandlers(
	sender notification.Sender,
	catalog course.Catalog,
	enrollments progression.EnrollmentRepository,
	admins Admins,
	flags FeatureGate,
	clock timeutil.Clock,
	log *slog.Logger,
) *NotificationHandlers {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &NotificationHandlers{
		sender:      sender,
		catalog:     catalog,
		enrollments: enrollments,
		admins:      admins,
		flags:       flags,
		clock:       clock,
		logger:      log.With(logger.Component("notifications")),
	}
}

// Register подписывает обработчики на шину.
func (h *NotificationHandlers) Register(bus shared.EventSubscriber) error {
	subs := map[shared.EventType]shared.EventHandler{
		shared.EventHomeworkSubmitted: h.OnHomeworkSubmitted,
		shared.EventHomeworkApproved:  h.OnHomeworkApproved,
		shared.EventHomeworkRejected:  h.OnHomeworkRejected,
		shared.EventCourseCompleted:   h.OnCourseCompleted,
		shared.EventLessonDelivered:   h.OnLessonDelivered,
		shared.EventDeliveryFailed:    h.OnDeliveryFailed,
	}
	for eventType, handler := range subs {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", eventType, err)
		}
	}
	return nil
}

func (h *NotificationHandlers) enabled(feature string, userID int64) bool {
	if h.flags == nil {
		return true
	}
	return h.flags.IsEnabled(feature, &config.FeatureContext{UserID: userID})
}

// OnHomeworkSubmitted отправляет работу на проверку всем админам.
func (h *NotificationHandlers) OnHomeworkSubmitted(ctx context.Context, e shared.Event) error {
	ev, ok := e.(homework.SubmittedEvent)
	if !ok {
		return unexpected(e)
	}
	sub := ev.Submission

	courseName, tierName := sub.CourseID, ""
	if c, err := h.catalog.Course(ctx, sub.CourseID); err == nil {
		courseName = c.Name
		if en, err := h.enrollments.GetEnrollment(ctx, sub.UserID, sub.CourseID); err == nil {
			tierName = en.TierID
			if t, ok := c.Tier(en.TierID); ok {
				tierName = t.Name
			}
		}
	}

	msg := reviewRequest(sub, courseName, tierName)

	var errs []error
	for _, chatID := range h.admins.Chats() {
		if err := h.sender.Send(ctx, chatID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		h.logger.Error("review request not delivered",
			"submission_id", sub.ID,
			"failed_chats", len(errs),
			"total_chats", len(h.admins.Chats()),
		)
	}
	return errors.Join(errs...)
}

// OnHomeworkApproved сообщает пользователю о принятой работе и времени
// следующего урока.
func (h *NotificationHandlers) OnHomeworkApproved(ctx context.Context, e shared.Event) error {
	ev, ok := e.(homework.ApprovedEvent)
	if !ok {
		return unexpected(e)
	}
	sub := ev.Submission
	text := approvedText(sub.Lesson, ev.NextLesson, sub.NextLessonDueAt, h.clock.Now())
	return h.sender.Send(ctx, sub.UserID, notification.Text(text))
}

// OnHomeworkRejected сообщает пользователю причину отказа.
func (h *NotificationHandlers) OnHomeworkRejected(ctx context.Context, e shared.Event) error {
	ev, ok := e.(homework.RejectedEvent)
	if !ok {
		return unexpected(e)
	}
	sub := ev.Submission
	return h.sender.Send(ctx, sub.UserID, notification.Text(rejectedText(sub.Lesson, sub.ReviewComment)))
}

// OnCourseCompleted поздравляет с окончанием курса.
func (h *NotificationHandlers) OnCourseCompleted(ctx context.Context, e shared.Event) error {
	ev, ok := e.(progression.CourseCompletedEvent)
	if !ok {
		return unexpected(e)
	}
	if !h.enabled(config.FeatureCompletionMessage, ev.UserID) {
		return nil
	}

	name := ev.CourseID
	if c, err := h.catalog.Course(ctx, ev.CourseID); err == nil {
		name = c.Name
	}
	return h.sender.Send(ctx, ev.UserID, notification.Text(completedText(name)))
}

// OnLessonDelivered просит прислать домашнее задание.
func (h *NotificationHandlers) OnLessonDelivered(ctx context.Context, e shared.Event) error {
	ev, ok := e.(progression.LessonDeliveredEvent)
	if !ok {
		return unexpected(e)
	}
	if !h.enabled(config.FeatureHomeworkPrompt, ev.UserID) {
		return nil
	}
	return h.sender.Send(ctx, ev.UserID, notification.Text(homeworkPromptText(ev.Lesson)))
}

// OnDeliveryFailed сообщает админам о материале, который не ушёл.
func (h *NotificationHandlers) OnDeliveryFailed(ctx context.Context, e shared.Event) error {
	ev, ok := e.(delivery.FailedEvent)
	if !ok {
		return unexpected(e)
	}

	msg := notification.Text(deliveryFailedText(ev.Delivery, ev.Reason))
	var errs []error
	for _, chatID := range h.admins.Chats() {
		if err := h.sender.Send(ctx, chatID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func unexpected(e shared.Event) error {
	return fmt.Errorf("eventhandler: unexpected event %T for %s", e, e.EventType())
}
