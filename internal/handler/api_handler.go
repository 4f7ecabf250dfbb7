package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-pagewatch/internal/app"
	"go-pagewatch/internal/configstore"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"
	"go-pagewatch/internal/middleware"
	"go-pagewatch/internal/pagetree"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// APIHandler holds the dependencies for the API handlers.
type APIHandler struct {
	bg       *app.Background
	tree     *pagetree.Tree
	settings *configstore.Store
	log      logger.Logger
}

// NewAPIHandler creates a new APIHandler with the given dependencies.
func NewAPIHandler(bg *app.Background, tree *pagetree.Tree, settings *configstore.Store, log logger.Logger) *APIHandler {
	return &APIHandler{
		bg:       bg,
		tree:     tree,
		settings: settings,
		log:      log,
	}
}

// appError maps domain errors to HTTP status codes.
func appError(err error, message string) *middleware.AppError {
	var (
		notFound  *data.ItemNotFoundError
		noParent  *data.ParentNotFoundError
		persist   *data.PersistError
		unknown   *configstore.UnknownKeyError
		validErrs validation.Errors
	)
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		code = http.StatusNotFound
	case errors.As(err, &noParent), errors.As(err, &validErrs), errors.As(err, &unknown):
		code = http.StatusBadRequest
	case errors.Is(err, pagetree.ErrInvalidMove):
		code = http.StatusConflict
	case errors.As(err, &persist):
		code = http.StatusServiceUnavailable
	}
	if code < http.StatusInternalServerError {
		message = message + ": " + err.Error()
	}
	return &middleware.AppError{Error: err, Message: message, Code: code}
}

// decode reads a JSON request body into v and validates it when v
// implements validation.Validatable.
func decode(r *http.Request, v interface{}) *middleware.AppError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid request body", Code: http.StatusBadRequest}
	}
	if val, ok := v.(validation.Validatable); ok {
		if err := val.Validate(); err != nil {
			return appError(err, "Invalid request")
		}
	}
	return nil
}
