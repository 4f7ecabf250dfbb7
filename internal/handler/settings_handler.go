package handler

import (
	"net/http"

	"go-pagewatch/internal/backup"
	"go-pagewatch/internal/configstore"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/middleware"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type settingsRequest struct {
	GlobalScanIntervalMinutes int `json:"globalScanIntervalMinutes"`
}

func (req settingsRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.GlobalScanIntervalMinutes, validation.Required, validation.Min(1)),
	)
}

func (h *APIHandler) getSettingsHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	middleware.WriteJSON(w, http.StatusOK, h.settings.Snapshot())
	return nil
}

// putSettingsHandler updates the user-editable settings and saves them.
func (h *APIHandler) putSettingsHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req settingsRequest
	if appErr := decode(r, &req); appErr != nil {
		return appErr
	}
	if err := h.settings.Set(configstore.KeyGlobalScanIntervalMinutes, req.GlobalScanIntervalMinutes); err != nil {
		return appError(err, "Invalid settings")
	}
	if err := h.settings.Save(r.Context()); err != nil {
		return appError(err, "Failed to save settings")
	}
	middleware.WriteJSON(w, http.StatusOK, h.settings.Snapshot())
	return nil
}

func (h *APIHandler) exportHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="pagewatch.yml"`)
	if err := backup.Export(h.tree, w); err != nil {
		return appError(err, "Failed to export pages")
	}
	return nil
}

// importHandler restores a YAML backup below the folder given by the
// parentId query parameter, or below the root.
func (h *APIHandler) importHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	parentID := r.URL.Query().Get("parentId")
	if parentID == "" {
		parentID = data.RootID
	}
	doc, err := backup.Read(r.Body)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid backup: " + err.Error(), Code: http.StatusBadRequest}
	}
	res, err := backup.Import(r.Context(), h.tree, doc, parentID)
	if err != nil {
		return appError(err, "Failed to import pages")
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
	return nil
}
