package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go-pagewatch/internal/logger"
)

// AppError represents a custom error type for the application.
type AppError struct {
	Error   error
	Message string
	Code    int
}

// AppHandler is a custom handler function type that returns an AppError.
type AppHandler func(http.ResponseWriter, *http.Request) *AppError

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// Error is a middleware that converts handler errors into JSON error
// responses. Panics are recovered and reported as 500.
func Error(log logger.Logger) func(AppHandler) http.Handler {
	return func(next AppHandler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := LoggerFrom(r.Context(), log)
			defer func() {
				if rec := recover(); rec != nil {
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("%v", rec)
					}
					reqLog.Error(err, "Panic recovered")
					WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error"})
				}
			}()

			err := next(w, r)
			if err != nil {
				if err.Code >= http.StatusInternalServerError {
					reqLog.Error(err.Error, err.Message)
				} else {
					reqLog.Debug(fmt.Sprintf("%s: %v", err.Message, err.Error))
				}
				WriteJSON(w, err.Code, errorBody{Error: err.Message})
			}
		})
	}
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
