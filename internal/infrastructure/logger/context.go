package logger

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stamps the request id onto the context so downstream
// layers (the gorm query logger in particular) can correlate their
// entries with the HTTP request
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the request id stamped on the context, or ""
func RequestIDFrom(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
