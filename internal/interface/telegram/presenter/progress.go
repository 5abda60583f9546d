package presenter

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS CARD
// ══════════════════════════════════════════════════════════════════════════════

// ProgressOptions control optional parts of the progress card.
type ProgressOptions struct {
	// ShowNextDue adds the time of the next scheduled delivery.
	ShowNextDue bool
}

// stateLabel is the user-facing name of a progression state.
func stateLabel(s progression.State) string {
	switch s {
	case progression.StateWaitingLessonDelivery:
		return "📬 получаете материалы урока"
	case progression.StateWaitingHomework:
		return "✍️ ждём ваше домашнее задание"
	case progression.StateWaitingApproval:
		return "⏳ задание на проверке"
	case progression.StateCourseCompleted:
		return "🎉 курс пройден"
	default:
		return string(s)
	}
}

// Progress renders the /progress card.
func Progress(v *query.ProgressView, now time.Time, opts ProgressOptions) string {
	if v == nil || !v.HasCourse {
		return NoCourse()
	}

	var b strings.Builder
	b.WriteString("📊 <b>Ваш прогресс</b>\n\n")
	fmt.Fprintf(&b, "Курс: <b>%s</b>\n", html.EscapeString(v.CourseName))
	if v.TierName != "" {
		fmt.Fprintf(&b, "Тариф: %s\n", html.EscapeString(v.TierName))
	}
	fmt.Fprintf(&b, "Урок: %d\n", v.Lesson)
	fmt.Fprintf(&b, "Статус: %s\n", stateLabel(v.State))

	if opts.ShowNextDue && v.NextDueAt != nil {
		fmt.Fprintf(&b, "\nСледующий материал придёт %s (%s МСК).\n",
			timeutil.FormatUntil(now, *v.NextDueAt), timeutil.FormatMoscow(*v.NextDueAt))
	}
	if v.PendingHomework > 0 {
		fmt.Fprintf(&b, "\nЗаданий на проверке: %d\n", v.PendingHomework)
	}
	if v.CompletedAt != nil {
		fmt.Fprintf(&b, "\nКурс завершён %s.\n", timeutil.FormatMoscow(*v.CompletedAt))
	}
	return b.String()
}

// NoCourse asks the user for an activation code.
func NoCourse() string {
	return "У вас пока нет активного курса.\n\n" +
		"Отправьте код активации командой <code>/activate КОД</code> или просто сообщением."
}

// ══════════════════════════════════════════════════════════════════════════════
// START / ACTIVATION
// ══════════════════════════════════════════════════════════════════════════════

// Welcome greets a user without a course.
func Welcome(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf("👋 Здравствуйте, <b>%s</b>!\n\n", html.EscapeString(name)) + NoCourse()
}

// WelcomeBack greets a user who already has a course.
func WelcomeBack(v *query.ProgressView, now time.Time, opts ProgressOptions) string {
	return "👋 С возвращением!\n\n" + Progress(v, now, opts)
}

// Activated confirms a successful activation.
func Activated(res *command.ActivateCourseResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Курс <b>%s</b> активирован", html.EscapeString(res.CourseName))
	if res.TierName != "" {
		fmt.Fprintf(&b, " (тариф «%s»)", html.EscapeString(res.TierName))
	}
	b.WriteString(".\n\n")
	if res.Armed {
		b.WriteString("Материалы первого урока уже в пути.")
	} else {
		b.WriteString("Материалы первого урока появятся совсем скоро.")
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// PendingList renders the /pending listing; numbers match PendingKeyboard.
func PendingList(items []query.PendingHomework, now time.Time) string {
	if len(items) == 0 {
		return "✅ Нет заданий, ожидающих проверки."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>Задания на проверке: %d</b>\n", len(items))
	for i, item := range items {
		s := item.Submission
		fmt.Fprintf(&b, "\n%d. Пользователь <code>%d</code>, %s, урок %d\n",
			i+1, s.UserID, html.EscapeString(item.CourseName), s.Lesson)
		fmt.Fprintf(&b, "   отправлено %s назад, ID <code>%s</code>\n",
			timeutil.FormatDelay(now.Sub(s.SubmittedAt).Truncate(time.Minute)), s.ID)
	}
	b.WriteString("\nОтклонить с комментарием: <code>/reject ID причина</code>")
	return b.String()
}

// Help lists the commands; admins also see the review commands.
func Help(isAdmin bool) string {
	var b strings.Builder
	b.WriteString("❓ <b>Как это работает</b>\n\n")
	b.WriteString("1. Активируйте курс кодом: <code>/activate КОД</code>.\n")
	b.WriteString("2. Бот пришлёт материалы урока.\n")
	b.WriteString("3. Выполните задание и отправьте фото или файл с решением.\n")
	b.WriteString("4. После проверки придёт следующий урок.\n\n")
	b.WriteString("<b>Команды:</b>\n")
	b.WriteString("/start — начало работы\n")
	b.WriteString("/activate — активировать курс\n")
	b.WriteString("/progress — ваш прогресс\n")
	b.WriteString("/help — эта справка\n")
	if isAdmin {
		b.WriteString("\n<b>Администратор:</b>\n")
		b.WriteString("/pending — задания на проверке\n")
		b.WriteString("/reject ID причина — отклонить задание\n")
		b.WriteString("/redeliver USER_ID — повторить неотправленные материалы\n")
	}
	return b.String()
}
