package handler

import (
	"context"
	"fmt"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// START HANDLER
// /start greets new users and shows returning users where they are.
// ══════════════════════════════════════════════════════════════════════════════

// StartHandler handles the /start command.
type StartHandler struct {
	progress  ProgressReader
	features  FeatureGate
	keyboards *presenter.KeyboardBuilder
	clock     timeutil.Clock
}

// NewStartHandler creates a new StartHandler with dependencies.
func NewStartHandler(
	progress ProgressReader,
	features FeatureGate,
	keyboards *presenter.KeyboardBuilder,
	clock timeutil.Clock,
) *StartHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StartHandler{
		progress:  progress,
		features:  gateOrAll(features),
		keyboards: keyboards,
		clock:     clock,
	}
}

// Handle processes the /start command.
func (h *StartHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	view, err := h.progress.Handle(ctx, query.GetProgressQuery{UserID: req.UserID})
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	if !view.HasCourse {
		return reply(presenter.Welcome(req.FirstName), h.keyboards.MainKeyboard()), nil
	}

	opts := progressOptions(h.features, req)
	return reply(presenter.WelcomeBack(view, h.clock.Now(), opts), h.keyboards.MainKeyboard()), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELP HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// HelpHandler handles the /help command.
type HelpHandler struct{}

// NewHelpHandler creates a new HelpHandler.
func NewHelpHandler() *HelpHandler {
	return &HelpHandler{}
}

// Handle processes the /help command.
func (h *HelpHandler) Handle(_ context.Context, req Request) (*Response, error) {
	return reply(presenter.Help(req.IsAdmin), nil), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ProgressHandler handles the /progress command.
type ProgressHandler struct {
	progress  ProgressReader
	features  FeatureGate
	keyboards *presenter.KeyboardBuilder
	clock     timeutil.Clock
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(
	progress ProgressReader,
	features FeatureGate,
	keyboards *presenter.KeyboardBuilder,
	clock timeutil.Clock,
) *ProgressHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ProgressHandler{
		progress:  progress,
		features:  gateOrAll(features),
		keyboards: keyboards,
		clock:     clock,
	}
}

// Handle processes the /progress command.
func (h *ProgressHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	view, err := h.progress.Handle(ctx, query.GetProgressQuery{UserID: req.UserID})
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	if !view.HasCourse {
		return reply(presenter.NoCourse(), nil), nil
	}
	text := presenter.Progress(view, h.clock.Now(), progressOptions(h.features, req))
	return reply(text, h.keyboards.ProgressKeyboard()), nil
}

func progressOptions(features FeatureGate, req Request) presenter.ProgressOptions {
	fc := &config.FeatureContext{UserID: req.UserID, IsAdmin: req.IsAdmin}
	return presenter.ProgressOptions{
		ShowNextDue: features.IsEnabled(config.FeatureProgressNextDue, fc),
	}
}
