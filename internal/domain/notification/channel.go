package notification

import (
	"context"
	"fmt"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// Gateway доставляет одно сообщение в чат за одну попытку.
// Выбор метода (текст, фото, видео, документ) - забота реализации.
type Gateway interface {
	Deliver(ctx context.Context, chatID int64, msg Message) error
}

// Sender отправляет сообщение с политикой повторов.
// Ошибка исчерпания попыток - *DispatchError.
type Sender interface {
	Send(ctx context.Context, chatID int64, msg Message) error
}

// DispatchError - терминальная ошибка отправки после всех попыток.
type DispatchError struct {
	ChatID   int64
	Kind     MessageKind
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("notification: dispatch %s to %d failed after %d attempt(s): %v",
		e.Kind, e.ChatID, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is позволяет проверять ошибку через shared.ErrExternalService.
func (e *DispatchError) Is(target error) bool {
	return target == shared.ErrExternalService
}

// GatewayFunc адаптирует функцию к Gateway.
type GatewayFunc func(ctx context.Context, chatID int64, msg Message) error

// Deliver реализует Gateway.
func (f GatewayFunc) Deliver(ctx context.Context, chatID int64, msg Message) error {
	return f(ctx, chatID, msg)
}
