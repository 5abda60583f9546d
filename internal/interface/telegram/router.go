package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/antbot/course-bot/internal/infrastructure/external/telegram"
	"github.com/antbot/course-bot/internal/interface/telegram/handler"
	"github.com/antbot/course-bot/internal/interface/telegram/presenter"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging for routing decisions.
	Debug bool
}

// Sender is the part of the Bot API the router answers through.
type Sender interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error
	EditMessageKeyboard(ctx context.Context, chatID, messageID int64, keyboard *telegram.InlineKeyboardMarkup) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CallbackContext contains context for callback query handling.
type CallbackContext struct {
	handler.Request

	// MessageID is the ID of the message with the inline keyboard.
	MessageID int64

	// QueryID is the callback query ID (for answering).
	QueryID string

	// Data is the callback data string.
	Data string
}

// CallbackAnswer describes how to finish a callback query.
type CallbackAnswer struct {
	// Text is shown as a toast or alert.
	Text      string
	ShowAlert bool

	// RemoveKeyboard strips the buttons from the source message.
	RemoveKeyboard bool

	// Reply is sent as a new message when set.
	Reply *handler.Response
}

// CommandFunc handles a command or a plain text message.
type CommandFunc func(ctx context.Context, req handler.Request) (*handler.Response, error)

// CallbackFunc handles a callback query.
type CallbackFunc func(ctx context.Context, cb CallbackContext) (*CallbackAnswer, error)

// MediaFunc handles an incoming file.
type MediaFunc func(ctx context.Context, req handler.HomeworkRequest) (*handler.Response, error)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// Routes incoming updates to appropriate handlers.
// ══════════════════════════════════════════════════════════════════════════════

// Router routes Telegram updates to appropriate handlers.
type Router struct {
	config RouterConfig
	logger *slog.Logger
	sender Sender

	mu        sync.RWMutex
	commands  map[string]CommandFunc
	callbacks map[string]CallbackFunc
	text      CommandFunc
	media     MediaFunc
}

// NewRouter creates a new router.
func NewRouter(config RouterConfig, sender Sender) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Router{
		config:    config,
		logger:    config.Logger,
		sender:    sender,
		commands:  make(map[string]CommandFunc),
		callbacks: make(map[string]CallbackFunc),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION METHODS
// ══════════════════════════════════════════════════════════════════════════════

// RegisterCommand registers a handler for a specific command.
// The command should be without the leading "/".
func (r *Router) RegisterCommand(command string, fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(command)] = fn
}

// RegisterCallbackPrefix registers a handler for callbacks matching a prefix.
// The prefix should include the trailing delimiter (e.g., "hw:").
func (r *Router) RegisterCallbackPrefix(prefix string, fn CallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[prefix] = fn
}

// SetTextHandler sets the handler for non-command text.
func (r *Router) SetTextHandler(fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = fn
}

// SetMediaHandler sets the handler for photos and documents.
func (r *Router) SetMediaHandler(fn MediaFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING METHODS
// ══════════════════════════════════════════════════════════════════════════════

// HandleCommand routes a command to its handler and sends the reply.
func (r *Router) HandleCommand(ctx context.Context, command string, req handler.Request) error {
	r.mu.RLock()
	fn, ok := r.commands[command]
	r.mu.RUnlock()

	if !ok {
		return r.respond(ctx, req.ChatID, unknownCommand(req.IsAdmin))
	}
	if r.config.Debug {
		r.logger.Debug("routing command", "command", command, "user_id", req.UserID)
	}

	resp, err := fn(ctx, req)
	if err != nil {
		_ = r.respond(ctx, req.ChatID, genericError())
		return fmt.Errorf("command /%s: %w", command, err)
	}
	return r.respond(ctx, req.ChatID, resp)
}

// HandleText routes a plain text message.
func (r *Router) HandleText(ctx context.Context, req handler.Request) error {
	r.mu.RLock()
	fn := r.text
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}

	resp, err := fn(ctx, req)
	if err != nil {
		_ = r.respond(ctx, req.ChatID, genericError())
		return fmt.Errorf("text: %w", err)
	}
	return r.respond(ctx, req.ChatID, resp)
}

// HandleMedia routes an incoming photo or document.
func (r *Router) HandleMedia(ctx context.Context, req handler.HomeworkRequest) error {
	r.mu.RLock()
	fn := r.media
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}

	resp, err := fn(ctx, req)
	if err != nil {
		_ = r.respond(ctx, req.ChatID, genericError())
		return fmt.Errorf("media: %w", err)
	}
	return r.respond(ctx, req.ChatID, resp)
}

// HandleCallback routes a callback to the handler with the longest matching
// prefix. The query is always answered, also on error.
func (r *Router) HandleCallback(ctx context.Context, cb CallbackContext) error {
	fn := r.matchCallback(cb.Data)
	if fn == nil {
		r.logger.Warn("unknown callback", "data", cb.Data)
		return r.sender.AnswerCallbackQuery(ctx, cb.QueryID, "", false)
	}

	answer, err := fn(ctx, cb)
	if err != nil {
		_ = r.sender.AnswerCallbackQuery(ctx, cb.QueryID, "😔 Произошла ошибка. Попробуйте позже.", true)
		return fmt.Errorf("callback %q: %w", cb.Data, err)
	}
	if answer == nil {
		answer = &CallbackAnswer{}
	}

	if err := r.sender.AnswerCallbackQuery(ctx, cb.QueryID, answer.Text, answer.ShowAlert); err != nil {
		r.logger.Warn("answer callback failed", logger.Err(err))
	}
	if answer.RemoveKeyboard && cb.MessageID != 0 {
		if err := r.sender.EditMessageKeyboard(ctx, cb.ChatID, cb.MessageID, nil); err != nil {
			r.logger.Warn("remove keyboard failed", "chat_id", cb.ChatID, logger.Err(err))
		}
	}
	if answer.Reply != nil {
		return r.respond(ctx, cb.ChatID, answer.Reply)
	}
	return nil
}

func (r *Router) matchCallback(data string) CallbackFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    CallbackFunc
		bestLen int
	)
	for prefix, fn := range r.callbacks {
		if strings.HasPrefix(data, prefix) && len(prefix) > bestLen {
			best, bestLen = fn, len(prefix)
		}
	}
	return best
}

// CommandCallback turns "cmd:<name>" buttons into the matching command, sent
// as a new message.
func (r *Router) CommandCallback() CallbackFunc {
	return func(ctx context.Context, cb CallbackContext) (*CallbackAnswer, error) {
		name := strings.TrimPrefix(cb.Data, "cmd:")

		r.mu.RLock()
		fn, ok := r.commands[name]
		r.mu.RUnlock()
		if !ok {
			return &CallbackAnswer{Text: "Неизвестная кнопка."}, nil
		}

		resp, err := fn(ctx, cb.Request)
		if err != nil {
			return nil, err
		}
		return &CallbackAnswer{Reply: resp}, nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (r *Router) respond(ctx context.Context, chatID int64, resp *handler.Response) error {
	if resp == nil || resp.Text == "" {
		return nil
	}
	params := telegram.SendMessageParams{
		ChatID:            chatID,
		Text:              resp.Text,
		ParseMode:         resp.ParseMode,
		DisableWebPreview: true,
	}
	if kb := convertKeyboard(resp.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}

	_, err := r.sender.SendMessage(ctx, params)
	return err
}

func unknownCommand(isAdmin bool) *handler.Response {
	return &handler.Response{
		Text:      "❓ <b>Неизвестная команда</b>\n\n" + presenter.Help(isAdmin),
		ParseMode: "HTML",
		IsError:   true,
	}
}

func genericError() *handler.Response {
	return &handler.Response{Text: "😔 Произошла ошибка. Попробуйте позже.", IsError: true}
}

// convertKeyboard converts presenter.InlineKeyboard to telegram.InlineKeyboardMarkup.
func convertKeyboard(kb *presenter.InlineKeyboard) *telegram.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telegram.InlineKeyboardButton, len(kb.Rows)),
	}

	for i, row := range kb.Rows {
		markup.InlineKeyboard[i] = make([]telegram.InlineKeyboardButton, len(row))
		for j, btn := range row {
			markup.InlineKeyboard[i][j] = telegram.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
				URL:          btn.URL,
			}
		}
	}

	return markup
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTE INFO (for introspection)
// ══════════════════════════════════════════════════════════════════════════════

// GetRegisteredCommands returns the registered command names, sorted.
func (r *Router) GetRegisteredCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]string, 0, len(r.commands))
	for cmd := range r.commands {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}
