package logger

import "context"

// contextKey keeps the request-id value private to this package.
type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stores the request id the RequestID middleware assigned,
// so request log lines can carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id from ctx, or "" when the request
// never passed through the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
