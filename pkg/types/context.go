package types

import "context"

type contextKey string

// Context keys used to thread request identity into telemetry.
const (
	ContextKeySessionID contextKey = "session_id"
	ContextKeyUserID    contextKey = "user_id"
)

// WithSessionID attaches the session ID to the context for telemetry.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithUserID attaches the user ID to the context for telemetry.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// SessionIDFrom extracts the session ID from the context, if any.
func SessionIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeySessionID).(string)
	return v
}

// UserIDFrom extracts the user ID from the context, if any.
func UserIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyUserID).(string)
	return v
}
