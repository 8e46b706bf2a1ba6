package goEnroll

import "context"

type correlationIDContextKey struct{}
type quietContextKey struct{}

// WithCorrelationID attaches an identifier that is copied into every audit
// event emitted while handling ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

func correlationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDContextKey{}).(string)
	return id
}

// withQuiet marks ctx so a session ended while handling it produces no
// user notification.
func withQuiet(ctx context.Context) context.Context {
	return context.WithValue(ctx, quietContextKey{}, true)
}

func isQuiet(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	quiet, _ := ctx.Value(quietContextKey{}).(bool)
	return quiet
}
