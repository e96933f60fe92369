// Package logging defines the structured logger used across the service.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "[auth][login] success", "user_id", id)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
