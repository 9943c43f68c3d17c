package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	ThreadKey
)

// CorrelationID tags every request of the ops listener with an id that the
// context-aware log handler picks up.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set("X-Correlation-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		slog.DebugContext(ctx, "ops request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706 -- r.URL.Path is parsed by net/http
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// EnsureCorrelationID returns ctx unchanged when it already carries an id.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if id, ok := ctx.Value(CorrelationKey).(string); ok && id != "" {
		return ctx
	}
	return WithCorrelationID(ctx, uuid.New().String())
}

func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadKey, threadID)
}

func GetThreadID(ctx context.Context) string {
	if id, ok := ctx.Value(ThreadKey).(string); ok {
		return id
	}
	return ""
}
