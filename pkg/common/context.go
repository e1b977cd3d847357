// Package common holds small helpers shared across the HTTP surface.
package common

import (
	"context"
)

// ContextKey represents a context key type
type ContextKey string

const (
	ContextKeyPrincipal ContextKey = "principal"
	ContextKeyRequestID ContextKey = "request_id"
)

// Principal is the authenticated identity attached to a request. The same
// three fields travel in presence metadata on the realtime side.
type Principal struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// WithPrincipal adds the authenticated identity to context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// GetPrincipal extracts the authenticated identity from context
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(Principal)
	return p, ok
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok
}
