package eventhandler

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/notification"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ТЕКСТЫ УВЕДОМЛЕНИЙ
// ═══════════════════════════════════════════════════════════════════════════

// reviewRequest - файл домашнего задания с подписью и кнопками для админа.
func reviewRequest(sub homework.Submission, courseName, tierName string) notification.Message {
	var b strings.Builder
	b.WriteString("📝 <b>Новое домашнее задание</b>\n\n")
	fmt.Fprintf(&b, "Пользователь: <a href=\"tg://user?id=%d\">%d</a>\n", sub.UserID, sub.UserID)
	fmt.Fprintf(&b, "Курс: %s", html.EscapeString(courseName))
	if tierName != "" {
		fmt.Fprintf(&b, " (%s)", html.EscapeString(tierName))
	}
	fmt.Fprintf(&b, "\nУрок: %d\n", sub.Lesson)
	fmt.Fprintf(&b, "ID: <code>%s</code>", sub.ID)

	kind := notification.KindPhoto
	if sub.Content.Kind == homework.FileDocument {
		kind = notification.KindDocument
	}

	return notification.Message{
		Kind:      kind,
		FileID:    sub.Content.FileID,
		Caption:   b.String(),
		ParseMode: "HTML",
	}.WithKeyboard([]notification.InlineButton{
		notification.NewCallbackButton("✅ Принять", homework.ApproveCallback(sub.ID)),
		notification.NewCallbackButton("❌ Отклонить", homework.RejectCallback(sub.ID)),
	})
}

func approvedText(lesson, nextLesson int, nextDue *time.Time, now time.Time) string {
	text := fmt.Sprintf("✅ Домашнее задание к уроку %d принято!", lesson)
	if nextLesson > 0 && nextDue != nil {
		text += fmt.Sprintf("\n\nУрок %d придёт %s (%s МСК).",
			nextLesson, timeutil.FormatUntil(now, *nextDue), timeutil.FormatMoscow(*nextDue))
	}
	return text
}

func rejectedText(lesson int, reason string) string {
	text := fmt.Sprintf("❌ Домашнее задание к уроку %d не принято.", lesson)
	if reason != "" {
		text += "\n\n<b>Комментарий:</b> " + html.EscapeString(reason)
	}
	return text + "\n\nИсправьте работу и отправьте её ещё раз."
}

func completedText(courseName string) string {
	return fmt.Sprintf("🎉 Поздравляем! Курс «%s» пройден полностью.", html.EscapeString(courseName))
}

func homeworkPromptText(lesson int) string {
	return fmt.Sprintf("📚 Все материалы урока %d отправлены.\n\nКогда выполните задание, пришлите фото или файл с решением.", lesson)
}

func deliveryFailedText(d delivery.ScheduledDelivery, reason string) string {
	return fmt.Sprintf("⚠️ <b>Не удалось отправить материал</b>\n\nПользователь: %d\nКурс: %s\nУрок: %d\nФайл: %s\nОшибка: %s\n\nПосле исправления: /redeliver %d",
		d.UserID,
		html.EscapeString(d.CourseID),
		d.Lesson,
		html.EscapeString(d.ContentItem),
		html.EscapeString(reason),
		d.UserID,
	)
}
