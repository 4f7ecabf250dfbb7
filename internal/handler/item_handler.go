package handler

import (
	"net/http"

	"go-pagewatch/internal/data"
	"go-pagewatch/internal/middleware"
	"go-pagewatch/internal/pagetree"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// itemResponse is the JSON form of a tree item.
type itemResponse struct {
	Type   data.ItemType `json:"type"`
	Page   *data.Page    `json:"page,omitempty"`
	Folder *data.Folder  `json:"folder,omitempty"`
}

func toResponse(item data.Item) itemResponse {
	switch v := item.(type) {
	case *data.Page:
		return itemResponse{Type: data.TypePage, Page: v}
	case *data.Folder:
		return itemResponse{Type: data.TypeFolder, Folder: v}
	}
	return itemResponse{}
}

type createFolderRequest struct {
	ParentID string `json:"parentId"`
	Title    string `json:"title"`
}

func (req createFolderRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.ParentID, validation.Required),
		validation.Field(&req.Title, validation.Required, validation.Length(1, 200)),
	)
}

type createPageRequest struct {
	ParentID            string `json:"parentId"`
	URL                 string `json:"url"`
	Title               string `json:"title"`
	ScanIntervalMinutes int    `json:"scanIntervalMinutes"`
}

func (req createPageRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.ParentID, validation.Required),
		validation.Field(&req.URL, validation.Required, is.URL),
		validation.Field(&req.Title, validation.Length(0, 200)),
		validation.Field(&req.ScanIntervalMinutes, validation.Min(0)),
	)
}

type updatePageRequest struct {
	Title               *string `json:"title"`
	URL                 *string `json:"url"`
	ScanIntervalMinutes *int    `json:"scanIntervalMinutes"`
}

func (req updatePageRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Title, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&req.URL, validation.NilOrNotEmpty, is.URL),
		validation.Field(&req.ScanIntervalMinutes, validation.Min(0)),
	)
}

type moveRequest struct {
	ParentID string `json:"parentId"`
	Position *int   `json:"position"`
}

func (req moveRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.ParentID, validation.Required),
	)
}

// listItemsHandler returns every item in tree order.
func (h *APIHandler) listItemsHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	items := h.tree.Items()
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toResponse(item))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *APIHandler) getItemHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	item, err := h.tree.GetItem(chi.URLParam(r, "itemID"))
	if err != nil {
		return appError(err, "Item not found")
	}
	middleware.WriteJSON(w, http.StatusOK, toResponse(item))
	return nil
}

func (h *APIHandler) createFolderHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req createFolderRequest
	if appErr := decode(r, &req); appErr != nil {
		return appErr
	}
	folder, err := h.tree.CreateFolder(r.Context(), req.ParentID, req.Title)
	if err != nil {
		return appError(err, "Failed to create folder")
	}
	middleware.WriteJSON(w, http.StatusCreated, toResponse(folder))
	return nil
}

func (h *APIHandler) createPageHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req createPageRequest
	if appErr := decode(r, &req); appErr != nil {
		return appErr
	}
	title := req.Title
	if title == "" {
		title = req.URL
	}
	page, err := h.tree.CreatePage(r.Context(), req.ParentID, req.URL, title)
	if err != nil {
		return appError(err, "Failed to create page")
	}
	if req.ScanIntervalMinutes > 0 {
		page, err = h.tree.UpdatePage(r.Context(), page.ID, pagetree.PageUpdate{ScanIntervalMinutes: &req.ScanIntervalMinutes})
		if err != nil {
			return appError(err, "Failed to create page")
		}
	}
	middleware.WriteJSON(w, http.StatusCreated, toResponse(page))
	return nil
}

func (h *APIHandler) updatePageHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req updatePageRequest
	if appErr := decode(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.tree.UpdatePage(r.Context(), chi.URLParam(r, "itemID"), pagetree.PageUpdate{
		Title:               req.Title,
		URL:                 req.URL,
		ScanIntervalMinutes: req.ScanIntervalMinutes,
	})
	if err != nil {
		return appError(err, "Failed to update page")
	}
	middleware.WriteJSON(w, http.StatusOK, toResponse(page))
	return nil
}

func (h *APIHandler) markViewedHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	page, err := h.tree.MarkViewed(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		return appError(err, "Failed to mark page as viewed")
	}
	middleware.WriteJSON(w, http.StatusOK, toResponse(page))
	return nil
}

func (h *APIHandler) moveItemHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req moveRequest
	if appErr := decode(r, &req); appErr != nil {
		return appErr
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}
	if err := h.tree.MoveItem(r.Context(), chi.URLParam(r, "itemID"), req.ParentID, position); err != nil {
		return appError(err, "Failed to move item")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// deleteItemHandler deletes a page, or a folder with everything below it.
func (h *APIHandler) deleteItemHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id := chi.URLParam(r, "itemID")
	item, err := h.tree.GetItem(id)
	if err != nil {
		return appError(err, "Item not found")
	}
	if item.ItemType() == data.TypeFolder {
		err = h.tree.DeleteFolder(r.Context(), id)
	} else {
		err = h.tree.DeletePage(r.Context(), id)
	}
	if err != nil {
		return appError(err, "Failed to delete item")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
