package logging

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	// CorrelationIDKey holds the request tracking identifier.
	CorrelationIDKey contextKey = "correlation_id"
	// UserIDKey holds the authenticated subject.
	UserIDKey contextKey = "user_id"
)

// CorrelationIDHeader is the header used to propagate the correlation identifier.
const CorrelationIDHeader = "X-Correlation-ID"

// NewCorrelationID generates a short request identifier such as req_3f2a9c01bd4e.
func NewCorrelationID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// WithCorrelationID binds id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID returns the identifier bound to ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID binds the authenticated subject to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the subject bound to ctx, or "".
func GetUserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
