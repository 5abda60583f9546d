package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HOMEWORK HANDLER
// A photo or document from a user is a homework submission.
// ══════════════════════════════════════════════════════════════════════════════

// HomeworkRequest is an incoming file.
type HomeworkRequest struct {
	Request

	// FileID is the Telegram file id of the largest photo or the document.
	FileID string
	Kind   homework.FileKind
}

// HomeworkHandler handles homework files.
type HomeworkHandler struct {
	submitter Submitter
	features  FeatureGate
	logger    *slog.Logger
}

// NewHomeworkHandler creates a new HomeworkHandler.
func NewHomeworkHandler(submitter Submitter, features FeatureGate, log *slog.Logger) *HomeworkHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HomeworkHandler{
		submitter: submitter,
		features:  gateOrAll(features),
		logger:    log.With(logger.Component("homework_handler")),
	}
}

// Handle stores the submission against the user's current lesson.
func (h *HomeworkHandler) Handle(ctx context.Context, req HomeworkRequest) (*Response, error) {
	fc := &config.FeatureContext{UserID: req.UserID, IsAdmin: req.IsAdmin}
	if req.Kind == homework.FileDocument && !h.features.IsEnabled(config.FeatureDocumentHomework, fc) {
		return replyError(textOnlyPhoto), nil
	}

	res, err := h.submitter.Handle(ctx, command.SubmitHomeworkCommand{
		UserID: req.UserID,
		FileID: req.FileID,
		Kind:   req.Kind,
	})
	if err != nil {
		if text, ok := submitErrorText(err); ok {
			h.logger.Info("submission refused", logger.UserID(req.UserID), logger.Err(err))
			return replyError(text), nil
		}
		return nil, fmt.Errorf("submit homework: %w", err)
	}

	return reply(fmt.Sprintf("📨 Задание к уроку %d отправлено на проверку. Мы сообщим о результате.", res.Lesson), nil), nil
}
