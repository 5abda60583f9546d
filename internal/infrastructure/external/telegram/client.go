// Package telegram implements the Telegram Bot API wrapper used by the
// course bot: long polling, text and media sends, callback answers.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token
	Token string

	// BaseURL is the Telegram Bot API base URL (default: https://api.telegram.org)
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RatePerSecond caps outgoing calls across the whole bot.
	RatePerSecond int

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       60 * time.Second, // Must be > polling timeout (30s) + network latency
		RatePerSecond: 25,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Update represents a Telegram update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64           `json:"message_id"`
	From      *User           `json:"from,omitempty"`
	Chat      *Chat           `json:"chat"`
	Date      int64           `json:"date"`
	Text      string          `json:"text,omitempty"`
	Caption   string          `json:"caption,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`
	Photo     []PhotoSize     `json:"photo,omitempty"`
	Document  *Document       `json:"document,omitempty"`
}

// LargestPhoto returns the file id of the biggest photo size, or "".
func (m *Message) LargestPhoto() string {
	if m == nil || len(m.Photo) == 0 {
		return ""
	}
	best := m.Photo[0]
	for _, p := range m.Photo[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best.FileID
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Document is a general file.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// User represents a Telegram user.
type User struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// MessageEntity represents a message entity (command, mention, etc.).
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// CallbackQuery represents a callback query from an inline keyboard.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// InlineKeyboardMarkup represents an inline keyboard.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton represents a button in an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// APIResponse represents a Telegram API response.
type APIResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// ResponseParameters contains additional error parameters.
type ResponseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram Bot API client. Calls are not retried here; the
// notification dispatcher owns the retry policy.
type Client struct {
	config  ClientConfig
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 25
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		config:  config,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RatePerSecond),
		logger:  config.Logger.With(logger.Component("telegram")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDING MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendMessageParams contains parameters for sending a message.
type SendMessageParams struct {
	ChatID              int64
	Text                string
	ParseMode           string // "HTML" or empty
	DisableNotification bool
	DisableWebPreview   bool
	ReplyMarkup         *InlineKeyboardMarkup
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	body := map[string]any{
		"chat_id": params.ChatID,
		"text":    params.Text,
	}
	if params.ParseMode != "" {
		body["parse_mode"] = params.ParseMode
	}
	if params.DisableNotification {
		body["disable_notification"] = true
	}
	if params.DisableWebPreview {
		body["disable_web_page_preview"] = true
	}
	if params.ReplyMarkup != nil {
		body["reply_markup"] = params.ReplyMarkup
	}

	var message Message
	if err := c.callJSON(ctx, "sendMessage", body, &message); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &message, nil
}

// SendHTML sends an HTML-formatted message.
func (c *Client) SendHTML(ctx context.Context, chatID int64, html string) (*Message, error) {
	return c.SendMessage(ctx, SendMessageParams{
		ChatID:    chatID,
		Text:      html,
		ParseMode: "HTML",
	})
}

// MediaMethod names the Bot API send method of a media kind.
type MediaMethod string

const (
	MethodPhoto    MediaMethod = "sendPhoto"
	MethodVideo    MediaMethod = "sendVideo"
	MethodDocument MediaMethod = "sendDocument"
)

// field is the form field that carries the file.
func (m MediaMethod) field() string {
	switch m {
	case MethodPhoto:
		return "photo"
	case MethodVideo:
		return "video"
	default:
		return "document"
	}
}

// SendMediaParams contains parameters for a photo, video or document.
// Exactly one of FilePath and FileID is set.
type SendMediaParams struct {
	Method      MediaMethod
	ChatID      int64
	FilePath    string
	FileID      string
	Caption     string
	ParseMode   string
	ReplyMarkup *InlineKeyboardMarkup
}

// SendMedia uploads a local file as multipart form data, or re-sends a
// file already stored by Telegram.
func (c *Client) SendMedia(ctx context.Context, params SendMediaParams) (*Message, error) {
	if params.FileID != "" {
		body := map[string]any{
			"chat_id":            params.ChatID,
			params.Method.field(): params.FileID,
		}
		if params.Caption != "" {
			body["caption"] = params.Caption
		}
		if params.ParseMode != "" {
			body["parse_mode"] = params.ParseMode
		}
		if params.ReplyMarkup != nil {
			body["reply_markup"] = params.ReplyMarkup
		}

		var message Message
		if err := c.callJSON(ctx, string(params.Method), body, &message); err != nil {
			return nil, fmt.Errorf("%s: %w", params.Method, err)
		}
		return &message, nil
	}

	form := map[string]string{
		"chat_id": strconv.FormatInt(params.ChatID, 10),
	}
	if params.Caption != "" {
		form["caption"] = params.Caption
	}
	if params.ParseMode != "" {
		form["parse_mode"] = params.ParseMode
	}
	if params.ReplyMarkup != nil {
		markup, err := json.Marshal(params.ReplyMarkup)
		if err != nil {
			return nil, fmt.Errorf("marshal reply markup: %w", err)
		}
		form["reply_markup"] = string(markup)
	}

	var message Message
	err := c.call(ctx, string(params.Method), func(r *resty.Request) *resty.Request {
		return r.SetFormData(form).SetFile(params.Method.field(), params.FilePath)
	}, &message)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", params.Method, err)
	}
	return &message, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EDITING MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// EditMessageKeyboard replaces the inline keyboard of a message. A nil
// keyboard removes it.
func (c *Client) EditMessageKeyboard(ctx context.Context, chatID, messageID int64, keyboard *InlineKeyboardMarkup) error {
	if keyboard == nil {
		keyboard = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
	}
	body := map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": keyboard,
	}

	if err := c.callJSON(ctx, "editMessageReplyMarkup", body, nil); err != nil {
		return fmt.Errorf("edit message keyboard: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// AnswerCallbackQuery answers a callback query.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error {
	body := map[string]any{
		"callback_query_id": callbackQueryID,
	}
	if text != "" {
		body["text"] = text
		body["show_alert"] = showAlert
	}

	if err := c.callJSON(ctx, "answerCallbackQuery", body, nil); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GETTING UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// GetUpdates fetches updates using long polling.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		body["offset"] = offset
	}
	if limit > 0 {
		body["limit"] = limit
	}

	var updates []Update
	if err := c.callJSON(ctx, "getUpdates", body, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// DeleteWebhook removes the webhook so that long polling works.
func (c *Client) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	body := map[string]any{
		"drop_pending_updates": dropPendingUpdates,
	}
	if err := c.callJSON(ctx, "deleteWebhook", body, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT INFO
// ══════════════════════════════════════════════════════════════════════════════

// GetMe returns information about the bot.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.callJSON(ctx, "getMe", nil, &user); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &user, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// API CALL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) callJSON(ctx context.Context, method string, body map[string]any, result any) error {
	return c.call(ctx, method, func(r *resty.Request) *resty.Request {
		if body == nil {
			return r
		}
		return r.SetHeader("Content-Type", "application/json").SetBody(body)
	}, result)
}

// call makes one rate-limited API call and decodes the result.
func (c *Client) call(ctx context.Context, method string, build func(*resty.Request) *resty.Request, result any) error {
	// getUpdates is a long poll, not an outgoing message.
	if method != "getUpdates" {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	if c.config.Debug {
		c.logger.Debug("telegram api call", "method", method)
	}

	resp, err := build(c.http.R().SetContext(ctx)).Post("/bot" + c.config.Token + "/" + method)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Method: method, Err: err}
	}

	var apiResp APIResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		if resp.StatusCode() >= 500 {
			return &APIError{Code: resp.StatusCode(), Description: resp.Status()}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !apiResp.OK {
		apiErr := &APIError{
			Code:        apiResp.ErrorCode,
			Description: apiResp.Description,
		}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents a Telegram API error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// TransportError is a network failure before any API response.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsOutage reports whether err says Telegram itself is unavailable:
// transport failures and 5xx. Flood control and client errors are not.
func IsOutage(err error) bool {
	if err == nil {
		return false
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	return false
}

// IsRejected reports whether Telegram refused the request itself (bad
// request, blocked bot, missing chat). Repeating it cannot succeed.
func IsRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429
}

// IsBlocked reports whether the user blocked the bot or deleted the chat.
func IsBlocked(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 403 ||
		strings.Contains(apiErr.Description, "chat not found") ||
		strings.Contains(apiErr.Description, "bot was blocked")
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY METHODS
// ══════════════════════════════════════════════════════════════════════════════

// ExtractCommand extracts the command from a message (without the /).
func ExtractCommand(msg *Message) string {
	if msg == nil || msg.Text == "" {
		return ""
	}

	for _, entity := range msg.Entities {
		if entity.Type == "bot_command" && entity.Offset == 0 && entity.Length <= len(msg.Text) {
			cmd := msg.Text[1:entity.Length]
			// Remove bot username if present (@botname)
			if i := strings.IndexByte(cmd, '@'); i >= 0 {
				cmd = cmd[:i]
			}
			return strings.ToLower(cmd)
		}
	}
	return ""
}

// ExtractCommandArgs extracts arguments after the command.
func ExtractCommandArgs(msg *Message) string {
	if msg == nil || msg.Text == "" {
		return ""
	}

	for _, entity := range msg.Entities {
		if entity.Type == "bot_command" && entity.Offset == 0 && entity.Length < len(msg.Text) {
			return strings.TrimSpace(msg.Text[entity.Length:])
		}
	}
	return ""
}

// IsPrivateChat checks if the message is from a private chat.
func IsPrivateChat(msg *Message) bool {
	return msg != nil && msg.Chat != nil && msg.Chat.Type == "private"
}
