package middleware

import (
	"context"
	"net/http"
)

type settingsKey string

const (
	// WaitModeKey is the key for the wait mode setting in the request context.
	WaitModeKey settingsKey = "waitMode"
)

// SettingsMiddleware checks for a "wait=true" query parameter and sets a
// corresponding flag in the request context. Scan requests normally return
// at once; in wait mode they run to completion and report their result.
func SettingsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait := r.URL.Query().Get("wait") == "true"
		ctx := context.WithValue(r.Context(), WaitModeKey, wait)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IsWaitMode returns true if the wait mode flag is set in the request context.
func IsWaitMode(ctx context.Context) bool {
	wait, ok := ctx.Value(WaitModeKey).(bool)
	return ok && wait
}
