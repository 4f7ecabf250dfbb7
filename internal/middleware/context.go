package middleware

import (
	"context"
	"net/http"

	"go-pagewatch/internal/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// contextKey defines a custom type for context keys to avoid collisions.
type contextKey string

const loggerContextKey = contextKey("logger")

// RequestLogger stores a logger tagged with the request id and route in the
// request context.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := log.With(map[string]interface{}{
				"request_id": chimw.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			next.ServeHTTP(w, r.WithContext(SetLogger(r.Context(), reqLog)))
		})
	}
}

// LoggerFrom retrieves the request logger from the context, or fallback if
// none was stored.
func LoggerFrom(ctx context.Context, fallback logger.Logger) logger.Logger {
	if l, ok := ctx.Value(loggerContextKey).(logger.Logger); ok {
		return l
	}
	return fallback
}

// SetLogger adds a logger to the context.
func SetLogger(ctx context.Context, l logger.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}
