// Package telegram implements the Telegram side of the course bot: it receives
// updates by long polling, runs them through the middleware chain and routes
// them to command, callback and homework handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/infrastructure/external/telegram"
	"github.com/antbot/course-bot/internal/interface/telegram/handler"
	"github.com/antbot/course-bot/internal/interface/telegram/handler/callback"
	"github.com/antbot/course-bot/internal/interface/telegram/middleware"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/retry"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// PollingTimeout is the long polling timeout.
	PollingTimeout time.Duration

	// Debug enables debug logging.
	Debug bool

	// Logger for structured logging.
	Logger *slog.Logger

	// AdminIDs may use the review commands and buttons.
	AdminIDs []int64

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// UpdateTimeout bounds the handling of one update.
	UpdateTimeout time.Duration

	// GracefulShutdownTimeout is the timeout for graceful shutdown.
	GracefulShutdownTimeout time.Duration

	// RateLimit overrides the per-user limiter settings when set.
	RateLimit *middleware.RateLimitConfig
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		PollingTimeout:          30 * time.Second,
		Logger:                  slog.Default(),
		MaxConcurrentUpdates:    64,
		UpdateTimeout:           60 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// BotDependencies contains the application handlers the bot calls.
type BotDependencies struct {
	// Commands
	Activate  handler.Activator
	Submit    handler.Submitter
	Review    handler.Reviewer
	Redeliver handler.Redeliverer

	// Queries
	Progress handler.ProgressReader
	Pending  handler.PendingLister

	Features handler.FeatureGate
	Clock    timeutil.Clock
}

// Poller is the part of the Bot API used for receiving updates.
type Poller interface {
	GetUpdates(ctx context.Context, offset int64, limit int, timeout time.Duration) ([]telegram.Update, error)
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
	GetMe(ctx context.Context) (*telegram.User, error)
}

// API is everything the bot needs from the Telegram client.
type API interface {
	Poller
	Sender
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config BotConfig
	api    API
	router *Router
	logger *slog.Logger

	// Middleware chain
	authMiddleware     *middleware.AuthMiddleware
	rateLimiter        *middleware.RateLimiter
	recoveryMiddleware *middleware.RecoveryMiddleware
	metricsMiddleware  *middleware.MetricsMiddleware

	running   atomic.Bool
	updateSem chan struct{}
	wg        sync.WaitGroup

	stats *BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	StartedAt       time.Time
	UpdatesReceived atomic.Int64
	UpdatesHandled  atomic.Int64
	ErrorsCount     atomic.Int64
}

// NewBot creates a new Telegram bot with all dependencies.
func NewBot(config BotConfig, api API, deps BotDependencies) (*Bot, error) {
	if api == nil {
		return nil, errors.New("telegram api is required")
	}
	if deps.Activate == nil || deps.Submit == nil || deps.Review == nil || deps.Progress == nil {
		return nil, errors.New("bot dependencies are incomplete")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = 64
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = 60 * time.Second
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = 30 * time.Second
	}
	log := config.Logger.With(logger.Component("telegram_bot"))

	keyboards := presenter.NewKeyboardBuilder()

	startHandler := handler.NewStartHandler(deps.Progress, deps.Features, keyboards, deps.Clock)
	helpHandler := handler.NewHelpHandler()
	progressHandler := handler.NewProgressHandler(deps.Progress, deps.Features, keyboards, deps.Clock)
	activateHandler := handler.NewActivateHandler(deps.Activate, deps.Progress, deps.Features, keyboards, config.Logger)
	homeworkHandler := handler.NewHomeworkHandler(deps.Submit, deps.Features, config.Logger)
	rejectHandler := handler.NewRejectHandler(deps.Review, config.Logger)
	reviewCallback := callback.NewReviewHandler(deps.Review, deps.Clock, config.Logger)

	rlConfig := middleware.DefaultRateLimitConfig()
	if config.RateLimit != nil {
		rlConfig = *config.RateLimit
	}
	recoveryConfig := middleware.DefaultRecoveryConfig()
	recoveryConfig.Logger = config.Logger

	router := NewRouter(RouterConfig{Logger: config.Logger, Debug: config.Debug}, api)

	router.RegisterCommand("start", startHandler.Handle)
	router.RegisterCommand("help", helpHandler.Handle)
	router.RegisterCommand("progress", progressHandler.Handle)
	router.RegisterCommand("activate", activateHandler.Handle)
	router.RegisterCommand("reject", rejectHandler.Handle)
	if deps.Pending != nil {
		router.RegisterCommand("pending", handler.NewPendingHandler(deps.Pending, keyboards, deps.Clock).Handle)
	}
	if deps.Redeliver != nil {
		router.RegisterCommand("redeliver", handler.NewRedeliverHandler(deps.Redeliver, deps.Features).Handle)
	}
	router.SetTextHandler(activateHandler.HandleText)
	router.SetMediaHandler(homeworkHandler.Handle)

	router.RegisterCallbackPrefix("hw:", func(ctx context.Context, cb CallbackContext) (*CallbackAnswer, error) {
		resp, err := reviewCallback.Handle(ctx, callback.ReviewRequest{ReviewerID: cb.UserID, Data: cb.Data})
		if err != nil {
			return nil, err
		}
		return &CallbackAnswer{Text: resp.AnswerText, ShowAlert: resp.ShowAlert, RemoveKeyboard: resp.RemoveKeyboard}, nil
	})
	router.RegisterCallbackPrefix("cmd:", router.CommandCallback())

	return &Bot{
		config:             config,
		api:                api,
		router:             router,
		logger:             log,
		authMiddleware:     middleware.NewAuthMiddleware(middleware.DefaultAuthConfig(config.AdminIDs)),
		rateLimiter:        middleware.NewRateLimiter(rlConfig),
		recoveryMiddleware: middleware.NewRecoveryMiddleware(recoveryConfig),
		metricsMiddleware:  middleware.NewMetricsMiddleware(middleware.DefaultMetricsConfig()),
		updateSem:          make(chan struct{}, config.MaxConcurrentUpdates),
		stats:              &BotStats{StartedAt: time.Now()},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Run verifies the token and long-polls until ctx is cancelled. In-flight
// updates get GracefulShutdownTimeout to finish.
func (b *Bot) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("bot is already running")
	}
	defer b.running.Store(false)

	startup := retry.TelegramRetrier(retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		b.logger.Warn("telegram startup call failed", "attempt", attempt, "retry_in", delay, logger.Err(err))
	}))
	if err := startup.Do(ctx, func(ctx context.Context) error {
		return b.api.DeleteWebhook(ctx, false)
	}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	me, err := retry.DoWithData(ctx, startup, b.api.GetMe)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	b.logger.Info("bot verified", "id", me.ID, "username", me.Username)

	b.poll(ctx)
	b.drain()
	return nil
}

// IsRunning returns whether the bot is currently running.
func (b *Bot) IsRunning() bool {
	return b.running.Load()
}

func (b *Bot) drain() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("all handlers completed gracefully")
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLING
// ══════════════════════════════════════════════════════════════════════════════

const maxPollBackoff = 30 * time.Second

func (b *Bot) poll(ctx context.Context) {
	b.logger.Info("starting long polling", "timeout", b.config.PollingTimeout)

	var (
		offset  int64
		backoff = time.Second
	)
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := b.api.GetUpdates(ctx, offset, 100, b.config.PollingTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("get updates failed", "backoff", backoff, logger.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxPollBackoff)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			offset = u.UpdateID + 1
			if !b.dispatch(ctx, u) {
				return
			}
		}
	}
}

// dispatch hands the update to a worker. Handlers run on a context detached
// from polling so a shutdown does not cut a half-done transition.
func (b *Bot) dispatch(ctx context.Context, u telegram.Update) bool {
	select {
	case b.updateSem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.updateSem }()

		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.UpdateTimeout)
		defer cancel()
		_ = b.HandleUpdate(uctx, &u)
	}()
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// HandleUpdate processes a single Telegram update.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	b.stats.UpdatesReceived.Add(1)

	userID := extractUserID(update)
	ctx = middleware.ContextWithUserID(ctx, userID)
	ctx = context.WithValue(ctx, middleware.StartTimeContextKey, time.Now())
	ctx = logger.WithContext(ctx, b.logger.With(logger.UserID(userID), "update_id", update.UpdateID))

	var err error
	switch {
	case update.Message != nil:
		err = b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	default:
		return nil
	}

	if err != nil {
		b.stats.ErrorsCount.Add(1)
		logger.FromContext(ctx).Error("failed to handle update", logger.Err(err))
		return err
	}
	b.stats.UpdatesHandled.Add(1)
	return nil
}

// handleMessage processes a Telegram message.
func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return nil
	}

	userID := msg.From.ID
	req := handler.Request{
		UserID:    userID,
		ChatID:    msg.Chat.ID,
		FirstName: msg.From.FirstName,
		IsAdmin:   b.authMiddleware.IsAdmin(userID),
	}
	ctx = middleware.ContextWithAdmin(ctx, req.IsAdmin)

	command := telegram.ExtractCommand(msg)
	fileID, kind := homeworkFile(msg)

	// Group chats only get commands; homework and codes come in private.
	if command == "" && !telegram.IsPrivateChat(msg) {
		return nil
	}
	if command == "" && fileID == "" && msg.Text == "" {
		return nil
	}

	if rl := b.rateLimiter.Check(ctx, userID); !rl.Allowed {
		if rl.ResponseMessage == "" {
			return nil
		}
		_, err := b.api.SendMessage(ctx, telegram.SendMessageParams{ChatID: req.ChatID, Text: rl.ResponseMessage})
		return err
	}

	switch {
	case command != "":
		auth := b.authMiddleware.AuthorizeCommand(userID, command)
		if !auth.ShouldContinue {
			_, err := b.api.SendMessage(ctx, telegram.SendMessageParams{ChatID: req.ChatID, Text: auth.ResponseMessage})
			return err
		}
		req.Args = telegram.ExtractCommandArgs(msg)
		return b.guarded(ctx, userID, "/"+command, func() error {
			return b.router.HandleCommand(ctx, command, req)
		})

	case fileID != "":
		return b.guarded(ctx, userID, "homework", func() error {
			return b.router.HandleMedia(ctx, handler.HomeworkRequest{Request: req, FileID: fileID, Kind: kind})
		})

	default:
		req.Args = msg.Text
		return b.guarded(ctx, userID, "text", func() error {
			return b.router.HandleText(ctx, req)
		})
	}
}

// handleCallbackQuery processes a callback query from inline keyboard.
func (b *Bot) handleCallbackQuery(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq.From == nil {
		return nil
	}

	userID := cq.From.ID
	cb := CallbackContext{
		Request: handler.Request{
			UserID:    userID,
			ChatID:    userID,
			FirstName: cq.From.FirstName,
			IsAdmin:   b.authMiddleware.IsAdmin(userID),
		},
		QueryID: cq.ID,
		Data:    cq.Data,
	}
	if cq.Message != nil && cq.Message.Chat != nil {
		cb.ChatID = cq.Message.Chat.ID
		cb.MessageID = cq.Message.MessageID
	}
	ctx = middleware.ContextWithAdmin(ctx, cb.IsAdmin)

	if rl := b.rateLimiter.Check(ctx, userID); !rl.Allowed {
		return b.api.AnswerCallbackQuery(ctx, cq.ID, "⏳ Слишком быстро! Подождите немного.", true)
	}

	if auth := b.authMiddleware.AuthorizeCallback(userID, cq.Data); !auth.ShouldContinue {
		return b.api.AnswerCallbackQuery(ctx, cq.ID, auth.ResponseMessage, true)
	}

	return b.guarded(ctx, userID, "callback", func() error {
		return b.router.HandleCallback(ctx, cb)
	})
}

// guarded runs fn under the recovery and metrics middleware.
func (b *Bot) guarded(ctx context.Context, userID int64, op string, fn func() error) error {
	rc := b.metricsMiddleware.Start(op, userID)

	res := b.recoveryMiddleware.RecoverWithHandler(ctx, userID, op, fn)
	if res.Recovered {
		err := errors.New("handler panicked")
		if res.PanicInfo != nil {
			err = res.PanicInfo.Error
		}
		rc.End(err)
		if userID != 0 && res.UserMessage != "" {
			_, _ = b.api.SendMessage(ctx, telegram.SendMessageParams{ChatID: userID, Text: res.UserMessage})
		}
		return err
	}

	rc.End(res.Err)
	return res.Err
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

func extractUserID(update *telegram.Update) int64 {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		return update.CallbackQuery.From.ID
	}
	return 0
}

// homeworkFile picks the submitted file out of a message.
func homeworkFile(msg *telegram.Message) (string, homework.FileKind) {
	if id := msg.LargestPhoto(); id != "" {
		return id, homework.FilePhoto
	}
	if msg.Document != nil && msg.Document.FileID != "" {
		return msg.Document.FileID, homework.FileDocument
	}
	return "", ""
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// StatsSnapshot is the bot counters plus per-operation metrics.
type StatsSnapshot struct {
	StartedAt       time.Time                  `json:"started_at"`
	Uptime          string                     `json:"uptime"`
	Running         bool                       `json:"running"`
	UpdatesReceived int64                      `json:"updates_received"`
	UpdatesHandled  int64                      `json:"updates_handled"`
	ErrorsCount     int64                      `json:"errors_count"`
	TrackedUsers    int                        `json:"tracked_users"`
	Metrics         middleware.MetricsSnapshot `json:"metrics"`
	Commands        []string                   `json:"commands"`
}

// Stats returns current bot statistics.
func (b *Bot) Stats() StatsSnapshot {
	uptime := time.Since(b.stats.StartedAt).Truncate(time.Second)
	return StatsSnapshot{
		StartedAt:       b.stats.StartedAt,
		Uptime:          uptime.String(),
		Running:         b.IsRunning(),
		UpdatesReceived: b.stats.UpdatesReceived.Load(),
		UpdatesHandled:  b.stats.UpdatesHandled.Load(),
		ErrorsCount:     b.stats.ErrorsCount.Load(),
		TrackedUsers:    b.rateLimiter.Tracked(),
		Metrics:         b.metricsMiddleware.Snapshot(),
		Commands:        b.router.GetRegisteredCommands(),
	}
}

// Router returns the router for handler registration.
func (b *Bot) Router() *Router {
	return b.router
}
