package auth

import "context"

type contextKey struct{}

var userContextKey contextKey

// ContextWithUser stores the acting user id, read back by the audit trail.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userContextKey).(string); ok {
		return userID
	}
	return ""
}
