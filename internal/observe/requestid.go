package observe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDHeader is the correlation header honored on inbound requests and
// echoed on every response.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// WithRequestID returns a context carrying the given correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the correlation id from ctx, or "" when absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewRequestID generates a fresh correlation id.
func NewRequestID() string {
	return uuid.New().String()
}

// Logger returns an [slog.Logger] enriched with the request_id from ctx.
// When no request id is present the default logger is returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RequestID(ctx); id != "" {
		l = l.With(slog.String("request_id", id))
	}
	return l
}
