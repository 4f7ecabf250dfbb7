package handler

import (
	"net/http"

	"go-pagewatch/internal/logger"
	appmw "go-pagewatch/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures a new chi router.
func NewRouter(h *APIHandler, log logger.Logger, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.RequestLogger(log))
	r.Use(appmw.CORS(allowedOrigins))
	r.Use(appmw.SettingsMiddleware)

	e := appmw.Error(log)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/scan", e(h.scanAllHandler))
		r.Method(http.MethodPost, "/scan/{itemID}", e(h.scanItemHandler))
		r.Method(http.MethodGet, "/badge", e(h.badgeHandler))

		r.Method(http.MethodGet, "/items", e(h.listItemsHandler))
		r.Method(http.MethodGet, "/items/{itemID}", e(h.getItemHandler))
		r.Method(http.MethodPost, "/items/{itemID}/move", e(h.moveItemHandler))
		r.Method(http.MethodDelete, "/items/{itemID}", e(h.deleteItemHandler))

		r.Method(http.MethodPost, "/folders", e(h.createFolderHandler))
		r.Method(http.MethodPost, "/pages", e(h.createPageHandler))
		r.Method(http.MethodPatch, "/pages/{itemID}", e(h.updatePageHandler))
		r.Method(http.MethodPost, "/pages/{itemID}/viewed", e(h.markViewedHandler))

		r.Method(http.MethodGet, "/settings", e(h.getSettingsHandler))
		r.Method(http.MethodPut, "/settings", e(h.putSettingsHandler))
		r.Method(http.MethodGet, "/export", e(h.exportHandler))
		r.Method(http.MethodPost, "/import", e(h.importHandler))
	})

	return r
}
