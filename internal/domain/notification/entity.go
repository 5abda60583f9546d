// Package notification описывает исходящие сообщения бота и контракт
// их доставки. Сама доставка реализована в инфраструктуре.
package notification

import (
	"github.com/antbot/course-bot/internal/domain/shared"
)

// MessageKind определяет способ отправки сообщения.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

// IsValid проверяет тип сообщения.
func (k MessageKind) IsValid() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindDocument:
		return true
	}
	return false
}

// Message - одно исходящее сообщение.
// Для медиа задаётся либо FilePath (локальный файл), либо FileID
// (файл, уже загруженный в Telegram).
type Message struct {
	Kind MessageKind

	// Text - текст для KindText.
	Text string

	// Caption - подпись к медиа.
	Caption string

	FilePath string
	FileID   string

	// ParseMode - "HTML" или пусто.
	ParseMode string

	Keyboard [][]InlineButton
}

// Text создаёт текстовое сообщение в HTML-разметке.
func Text(text string) Message {
	return Message{Kind: KindText, Text: text, ParseMode: "HTML"}
}

// WithKeyboard добавляет inline-клавиатуру.
func (m Message) WithKeyboard(rows ...[]InlineButton) Message {
	m.Keyboard = rows
	return m
}

// Validate проверяет, что сообщение можно отправить.
func (m Message) Validate() error {
	if !m.Kind.IsValid() {
		return ErrInvalidMessage
	}
	if m.Kind == KindText {
		if m.Text == "" {
			return ErrInvalidMessage
		}
		return nil
	}
	if m.FilePath == "" && m.FileID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INLINE BUTTON
// ══════════════════════════════════════════════════════════════════════════════

// InlineButton - кнопка inline-клавиатуры.
type InlineButton struct {
	Text string

	// CallbackData - данные для callback (до 64 байт).
	CallbackData string

	URL string
}

// NewCallbackButton создаёт кнопку с callback.
func NewCallbackButton(text, callbackData string) InlineButton {
	return InlineButton{Text: text, CallbackData: callbackData}
}

// ErrInvalidMessage возвращается для пустых и неполных сообщений.
var ErrInvalidMessage = shared.NewDomainError("notification", "Validate", shared.ErrInvalidInput, "message is incomplete")
