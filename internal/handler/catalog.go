package handler

import (
	"net/http"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

type menuItemRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"imageUrl"`
	IsAvailable *bool   `json:"isAvailable"`
	IsSeasonal  bool    `json:"isSeasonal"`
}

func (m menuItemRequest) input() service.MenuItemInput {
	return service.MenuItemInput{
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Price:       m.Price,
		ImageURL:    m.ImageURL,
		IsAvailable: m.IsAvailable,
		IsSeasonal:  m.IsSeasonal,
	}
}

type menuItemResponse struct {
	model.MenuItem
	Price float64 `json:"price"`
}

func newMenuItemResponse(m *model.MenuItem) menuItemResponse {
	return menuItemResponse{MenuItem: *m, Price: model.ToAmount(m.Price)}
}

// ListMenu возвращает меню, при необходимости отфильтрованное по категории.
func (h *Handler) ListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListMenu(r.Context(), actorFrom(r), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]menuItemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, newMenuItemResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMenuItem возвращает позицию меню.
func (h *Handler) GetMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid menu item id")
		return
	}

	m, err := h.service.GetMenuItem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMenuItemResponse(m))
}

// CreateMenuItem добавляет позицию меню.
func (h *Handler) CreateMenuItem(w http.ResponseWriter, r *http.Request) {
	var req menuItemRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	m, err := h.service.CreateMenuItem(r.Context(), actorFrom(r), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMenuItemResponse(m))
}

// UpdateMenuItem изменяет позицию меню.
func (h *Handler) UpdateMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid menu item id")
		return
	}

	var req menuItemRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	m, err := h.service.UpdateMenuItem(r.Context(), actorFrom(r), id, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMenuItemResponse(m))
}

// DeleteMenuItem удаляет позицию меню.
func (h *Handler) DeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid menu item id")
		return
	}

	if err := h.service.DeleteMenuItem(r.Context(), actorFrom(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tableRequest struct {
	TableNumber *int  `json:"tableNumber"`
	Capacity    *int  `json:"capacity"`
	IsAvailable *bool `json:"isAvailable"`
}

// AvailableTables возвращает свободные столики на время bookingDate.
func (h *Handler) AvailableTables(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("bookingDate"))
	if err != nil {
		badRequest(w, "bookingDate must be an RFC 3339 timestamp")
		return
	}

	tables, err := h.service.AvailableTables(r.Context(), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// ListTables возвращает все столики.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.service.ListTables(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// CreateTable добавляет столик.
func (h *Handler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var req tableRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.TableNumber == nil || req.Capacity == nil {
		badRequest(w, "tableNumber and capacity are required")
		return
	}

	t, err := h.service.CreateTable(r.Context(), actorFrom(r), service.TableInput{
		TableNumber: *req.TableNumber,
		Capacity:    *req.Capacity,
		IsAvailable: req.IsAvailable,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// UpdateTable частично изменяет столик.
func (h *Handler) UpdateTable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid table id")
		return
	}

	var req tableRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	t, err := h.service.UpdateTable(r.Context(), actorFrom(r), id, service.TableUpdate{
		TableNumber: req.TableNumber,
		Capacity:    req.Capacity,
		IsAvailable: req.IsAvailable,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTable удаляет столик без бронирований.
func (h *Handler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid table id")
		return
	}

	if err := h.service.DeleteTable(r.Context(), actorFrom(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
