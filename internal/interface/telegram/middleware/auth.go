// Package middleware contains Telegram bot middlewares for request processing.
// Every update passes rate limiting, admin authorization and panic recovery
// before it reaches a handler.
package middleware

import (
	"context"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const (
	// UserIDContextKey is the context key for the Telegram user ID.
	UserIDContextKey contextKey = "user_id"

	// AdminContextKey marks requests from an administrator.
	AdminContextKey contextKey = "is_admin"

	// StartTimeContextKey is the context key for request start time.
	StartTimeContextKey contextKey = "start_time"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTH MIDDLEWARE
// Users need no registration: anyone may activate a course. Only the review
// surface is restricted to the configured administrators.
// ══════════════════════════════════════════════════════════════════════════════

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// AdminIDs are Telegram user ids allowed to review homework.
	AdminIDs []int64

	// AdminCommands are commands (without "/") restricted to admins.
	AdminCommands map[string]bool

	// AdminCallbackPrefixes restrict callback data to admins.
	AdminCallbackPrefixes []string

	// OnForbidden returns the message sent to a non-admin.
	OnForbidden func(userID int64) string
}

// DefaultAuthConfig returns the admin surface of the course bot.
func DefaultAuthConfig(adminIDs []int64) AuthConfig {
	return AuthConfig{
		AdminIDs: adminIDs,
		AdminCommands: map[string]bool{
			"pending":   true,
			"reject":    true,
			"redeliver": true,
		},
		AdminCallbackPrefixes: []string{"hw:"},
		OnForbidden: func(int64) string {
			return "⛔ Эта команда доступна только администраторам."
		},
	}
}

// AuthMiddleware decides whether a user may run a command or press a button.
type AuthMiddleware struct {
	config AuthConfig
	admins map[int64]struct{}
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	admins := make(map[int64]struct{}, len(config.AdminIDs))
	for _, id := range config.AdminIDs {
		admins[id] = struct{}{}
	}
	if config.OnForbidden == nil {
		config.OnForbidden = DefaultAuthConfig(nil).OnForbidden
	}
	return &AuthMiddleware{config: config, admins: admins}
}

// AuthResult contains the result of an authorization check.
type AuthResult struct {
	// IsAdmin is true for configured administrators.
	IsAdmin bool

	// ShouldContinue is false when the request must be refused.
	ShouldContinue bool

	// ResponseMessage is sent to the user when ShouldContinue is false.
	ResponseMessage string
}

// IsAdmin reports whether userID is an administrator.
func (m *AuthMiddleware) IsAdmin(userID int64) bool {
	_, ok := m.admins[userID]
	return ok
}

// AuthorizeCommand checks a command (without "/").
func (m *AuthMiddleware) AuthorizeCommand(userID int64, command string) AuthResult {
	isAdmin := m.IsAdmin(userID)
	if m.config.AdminCommands[command] && !isAdmin {
		return AuthResult{ResponseMessage: m.config.OnForbidden(userID)}
	}
	return AuthResult{IsAdmin: isAdmin, ShouldContinue: true}
}

// AuthorizeCallback checks callback data.
func (m *AuthMiddleware) AuthorizeCallback(userID int64, data string) AuthResult {
	isAdmin := m.IsAdmin(userID)
	for _, prefix := range m.config.AdminCallbackPrefixes {
		if strings.HasPrefix(data, prefix) && !isAdmin {
			return AuthResult{ResponseMessage: m.config.OnForbidden(userID)}
		}
	}
	return AuthResult{IsAdmin: isAdmin, ShouldContinue: true}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// ContextWithUserID adds the Telegram user ID to context.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// UserIDFromContext retrieves the Telegram user ID from context.
func UserIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(UserIDContextKey).(int64); ok {
		return id
	}
	return 0
}

// ContextWithAdmin marks the request as coming from an administrator.
func ContextWithAdmin(ctx context.Context, isAdmin bool) context.Context {
	return context.WithValue(ctx, AdminContextKey, isAdmin)
}

// IsAdminFromContext reports whether the request comes from an administrator.
func IsAdminFromContext(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(AdminContextKey).(bool)
	return isAdmin
}
