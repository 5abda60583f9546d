package telegram

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/antbot/course-bot/internal/domain/notification"
	"github.com/antbot/course-bot/pkg/circuitbreaker"
	"github.com/antbot/course-bot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// Gateway implements notification.Gateway: one attempt per call, behind the
// Telegram circuit breaker. Errors that cannot succeed on retry are wrapped
// with retry.Permanent.
type Gateway struct {
	client  *Client
	breaker *circuitbreaker.Breaker
}

// NewGateway creates a gateway. The breaker only counts outages.
func NewGateway(client *Client, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	breaker := circuitbreaker.TelegramBreaker(
		circuitbreaker.WithIsFailure(IsOutage),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}),
	)
	return &Gateway{client: client, breaker: breaker}
}

// Breaker exposes the breaker for health reporting.
func (g *Gateway) Breaker() *circuitbreaker.Breaker {
	return g.breaker
}

// Deliver implements notification.Gateway.
func (g *Gateway) Deliver(ctx context.Context, chatID int64, msg notification.Message) error {
	if err := msg.Validate(); err != nil {
		return retry.Permanent(err)
	}

	// A file that is gone will not come back between attempts.
	if msg.Kind != notification.KindText && msg.FileID == "" {
		if _, err := os.Stat(msg.FilePath); err != nil {
			return retry.Permanent(fmt.Errorf("content file %s: %w", msg.FilePath, err))
		}
	}

	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.send(ctx, chatID, msg)
	})
	return classify(err)
}

func (g *Gateway) send(ctx context.Context, chatID int64, msg notification.Message) error {
	markup := toMarkup(msg.Keyboard)

	if msg.Kind == notification.KindText {
		_, err := g.client.SendMessage(ctx, SendMessageParams{
			ChatID:      chatID,
			Text:        msg.Text,
			ParseMode:   msg.ParseMode,
			ReplyMarkup: markup,
		})
		return err
	}

	_, err := g.client.SendMedia(ctx, SendMediaParams{
		Method:      mediaMethod(msg.Kind),
		ChatID:      chatID,
		FilePath:    msg.FilePath,
		FileID:      msg.FileID,
		Caption:     msg.Caption,
		ParseMode:   msg.ParseMode,
		ReplyMarkup: markup,
	})
	return err
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist), IsRejected(err):
		return retry.Permanent(err)
	default:
		return err
	}
}

func mediaMethod(kind notification.MessageKind) MediaMethod {
	switch kind {
	case notification.KindPhoto:
		return MethodPhoto
	case notification.KindVideo:
		return MethodVideo
	default:
		return MethodDocument
	}
}

func toMarkup(rows [][]notification.InlineButton) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.CallbackData,
				URL:          b.URL,
			})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}
