// Package logger builds the process-wide slog logger and carries
// request-scoped loggers through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls how the logger is built.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Format is "json" or "text". Defaults to text.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file:line in every record.
	AddSource bool
}

// New creates a slog logger from cfg.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT PROPAGATION
// ══════════════════════════════════════════════════════════════════════════════

type contextKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Err returns an "error" attribute. A nil error yields an empty attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Component tags records with the emitting component.
func Component(name string) slog.Attr { return slog.String("component", name) }

// UserID tags records with a Telegram user id.
func UserID(id int64) slog.Attr { return slog.Int64("user_id", id) }

// CourseID tags records with a course id.
func CourseID(id string) slog.Attr { return slog.String("course_id", id) }

// Lesson tags records with a lesson number.
func Lesson(n int) slog.Attr { return slog.Int("lesson", n) }
