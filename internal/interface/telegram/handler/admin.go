package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// The auth middleware lets only admins reach these.
// ══════════════════════════════════════════════════════════════════════════════

const pendingListLimit = 20

// PendingHandler handles /pending.
type PendingHandler struct {
	pending   PendingLister
	keyboards *presenter.KeyboardBuilder
	clock     timeutil.Clock
}

// NewPendingHandler creates a new PendingHandler.
func NewPendingHandler(pending PendingLister, keyboards *presenter.KeyboardBuilder, clock timeutil.Clock) *PendingHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PendingHandler{pending: pending, keyboards: keyboards, clock: clock}
}

// Handle lists submissions waiting for review, oldest first.
func (h *PendingHandler) Handle(ctx context.Context, _ Request) (*Response, error) {
	items, err := h.pending.Handle(ctx, query.ListPendingHomeworkQuery{Limit: pendingListLimit})
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}

	var kb *presenter.InlineKeyboard
	if len(items) > 0 {
		kb = h.keyboards.PendingKeyboard(items)
	}
	return reply(presenter.PendingList(items, h.clock.Now()), kb), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// REJECT
// ─────────────────────────────────────────────────────────────────────────────

// RejectHandler handles /reject <submission-id> <reason>.
type RejectHandler struct {
	reviewer Reviewer
	logger   *slog.Logger
}

// NewRejectHandler creates a new RejectHandler.
func NewRejectHandler(reviewer Reviewer, log *slog.Logger) *RejectHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RejectHandler{reviewer: reviewer, logger: log.With(logger.Component("reject_handler"))}
}

// Handle declines a submission with a comment for the user.
func (h *RejectHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	idText, reason, _ := strings.Cut(strings.TrimSpace(req.Args), " ")
	id, err := uuid.Parse(idText)
	if err != nil {
		return replyError("Формат: <code>/reject ID причина</code>"), nil
	}

	res, err := h.reviewer.Handle(ctx, command.ReviewHomeworkCommand{
		Decision:   homework.Reject{ID: id, Reason: strings.TrimSpace(reason)},
		ReviewerID: req.UserID,
	})
	if err != nil {
		if text, ok := reviewErrorText(err); ok {
			return replyError(text), nil
		}
		return nil, fmt.Errorf("reject: %w", err)
	}

	h.logger.Info("rejected by command", logger.UserID(res.Submission.UserID), "reviewer_id", req.UserID)
	return reply(fmt.Sprintf("❌ Задание пользователя <code>%d</code> (урок %d) отклонено.",
		res.Submission.UserID, res.Submission.Lesson), nil), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// REDELIVER
// ─────────────────────────────────────────────────────────────────────────────

// RedeliverHandler handles /redeliver <user_id>.
type RedeliverHandler struct {
	redeliverer Redeliverer
	features    FeatureGate
}

// NewRedeliverHandler creates a new RedeliverHandler.
func NewRedeliverHandler(redeliverer Redeliverer, features FeatureGate) *RedeliverHandler {
	return &RedeliverHandler{redeliverer: redeliverer, features: gateOrAll(features)}
}

// Handle re-sends the failed content of the user's current lesson.
func (h *RedeliverHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	fc := &config.FeatureContext{UserID: req.UserID, IsAdmin: req.IsAdmin}
	if !h.features.IsEnabled(config.FeatureAdminRedeliver, fc) {
		return replyError("Команда отключена."), nil
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(req.Args), 10, 64)
	if err != nil || userID <= 0 {
		return replyError("Формат: <code>/redeliver USER_ID</code>"), nil
	}

	report, err := h.redeliverer.Handle(ctx, command.RedeliverLessonCommand{UserID: userID, RequestedBy: req.UserID})
	switch {
	case errors.Is(err, lesson.ErrNothingToRedeliver):
		return reply(fmt.Sprintf("У пользователя <code>%d</code> нет неотправленных материалов.", userID), nil), nil
	case errors.Is(err, progression.ErrStateNotFound):
		return replyError(fmt.Sprintf("У пользователя <code>%d</code> нет активного курса.", userID)), nil
	case err != nil && report.Attempted == 0:
		return nil, fmt.Errorf("redeliver: %w", err)
	}

	text := fmt.Sprintf("🔁 Урок %d, пользователь <code>%d</code>: отправлено %d из %d.",
		report.Lesson, userID, report.Delivered, report.Attempted)
	if report.LessonComplete {
		text += "\nУрок полностью доставлен."
	}
	if err != nil {
		text += "\n⚠️ Часть материалов снова не отправлена, подробности в логах."
	}
	return reply(text, nil), nil
}
