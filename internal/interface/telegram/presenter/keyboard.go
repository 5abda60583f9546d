// Package presenter formats data for Telegram display.
// Presenters turn application views into HTML messages and inline keyboards.
package presenter

import (
	"fmt"

	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/homework"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// Library-agnostic keyboards; the bot converts them to the Bot API format.
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single inline button.
type InlineButton struct {
	// Text is the button text.
	Text string

	// CallbackData is the callback data (for callback buttons).
	CallbackData string

	// URL is the URL to open (for URL buttons).
	URL string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{
		Rows: make([][]InlineButton, 0),
	}
}

// AddRow adds a row of buttons.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// CallbackButton creates a callback button.
func CallbackButton(text, callbackData string) InlineButton {
	return InlineButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// Callback data of the navigation buttons. "cmd:<name>" reruns a command.
const (
	CallbackProgress = "cmd:progress"
	CallbackHelp     = "cmd:help"
)

// KeyboardBuilder builds inline keyboards for handlers.
type KeyboardBuilder struct{}

// NewKeyboardBuilder creates a new KeyboardBuilder.
func NewKeyboardBuilder() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// MainKeyboard is attached to /start and activation replies.
func (b *KeyboardBuilder) MainKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("📊 Мой прогресс", CallbackProgress),
			CallbackButton("❓ Помощь", CallbackHelp),
		)
}

// ProgressKeyboard lets the user refresh /progress.
func (b *KeyboardBuilder) ProgressKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(CallbackButton("🔄 Обновить", CallbackProgress))
}

// PendingKeyboard has one review row per pending submission.
func (b *KeyboardBuilder) PendingKeyboard(items []query.PendingHomework) *InlineKeyboard {
	kb := NewInlineKeyboard()
	for i, item := range items {
		id := item.Submission.ID
		kb.AddRow(
			CallbackButton(fmt.Sprintf("✅ %d", i+1), homework.ApproveCallback(id)),
			CallbackButton(fmt.Sprintf("❌ %d", i+1), homework.RejectCallback(id)),
		)
	}
	return kb
}
