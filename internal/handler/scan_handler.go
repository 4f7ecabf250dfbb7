package handler

import (
	"net/http"

	"go-pagewatch/internal/app"
	"go-pagewatch/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type scanResponse struct {
	Status       string `json:"status"`
	MajorChanges *int   `json:"majorChanges,omitempty"`
}

// scanAllHandler starts a scan of every page.
func (h *APIHandler) scanAllHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	return h.runRequest(w, r, app.ScanAllRequest{})
}

// scanItemHandler starts a scan of one page or of a folder's pages.
func (h *APIHandler) scanItemHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	return h.runRequest(w, r, app.ScanItemRequest{ItemID: chi.URLParam(r, "itemID")})
}

func (h *APIHandler) runRequest(w http.ResponseWriter, r *http.Request, req app.Request) *middleware.AppError {
	if middleware.IsWaitMode(r.Context()) {
		n, err := h.bg.Handle(r.Context(), req)
		if err != nil {
			return appError(err, "Scan failed")
		}
		middleware.WriteJSON(w, http.StatusOK, scanResponse{Status: "done", MajorChanges: &n})
		return nil
	}

	if err := h.bg.Dispatch(req); err != nil {
		return appError(err, "Failed to start scan")
	}
	middleware.WriteJSON(w, http.StatusAccepted, scanResponse{Status: "scanning"})
	return nil
}

func (h *APIHandler) badgeHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	middleware.WriteJSON(w, http.StatusOK, h.bg.Badge())
	return nil
}
