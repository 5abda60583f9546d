package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVATE HANDLER
// /activate <code>, or a plain text message when the user has no running
// course.
// ══════════════════════════════════════════════════════════════════════════════

// ActivateHandler handles course activation.
type ActivateHandler struct {
	activator Activator
	progress  ProgressReader
	features  FeatureGate
	keyboards *presenter.KeyboardBuilder
	logger    *slog.Logger
}

// NewActivateHandler creates a new ActivateHandler.
func NewActivateHandler(
	activator Activator,
	progress ProgressReader,
	features FeatureGate,
	keyboards *presenter.KeyboardBuilder,
	log *slog.Logger,
) *ActivateHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ActivateHandler{
		activator: activator,
		progress:  progress,
		features:  gateOrAll(features),
		keyboards: keyboards,
		logger:    log.With(logger.Component("activate_handler")),
	}
}

// Handle processes /activate.
func (h *ActivateHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	code := strings.TrimSpace(req.Args)
	if code == "" {
		return replyError(textNeedCode), nil
	}
	return h.activate(ctx, req.UserID, code)
}

// HandleText treats a plain message as a code. It returns nil when the
// message should be ignored.
func (h *ActivateHandler) HandleText(ctx context.Context, req Request) (*Response, error) {
	fc := &config.FeatureContext{UserID: req.UserID, IsAdmin: req.IsAdmin}
	if !h.features.IsEnabled(config.FeatureTextActivation, fc) {
		return nil, nil
	}

	text := strings.TrimSpace(req.Args)
	if text == "" || strings.ContainsAny(text, " \n\t") {
		return nil, nil
	}

	view, err := h.progress.Handle(ctx, query.GetProgressQuery{UserID: req.UserID})
	if err != nil {
		return nil, fmt.Errorf("activate text: %w", err)
	}
	if view.HasCourse && view.State != progression.StateCourseCompleted {
		return reply("Чтобы сдать задание, отправьте фото или файл с решением. Прогресс: /progress", nil), nil
	}
	return h.activate(ctx, req.UserID, text)
}

func (h *ActivateHandler) activate(ctx context.Context, userID int64, code string) (*Response, error) {
	res, err := h.activator.Handle(ctx, command.ActivateCourseCommand{UserID: userID, Code: code})
	if err != nil {
		if text, ok := activateErrorText(err); ok {
			h.logger.Info("activation refused", logger.UserID(userID), logger.Err(err))
			return replyError(text), nil
		}
		return nil, fmt.Errorf("activate: %w", err)
	}
	return reply(presenter.Activated(res), h.keyboards.MainKeyboard()), nil
}
