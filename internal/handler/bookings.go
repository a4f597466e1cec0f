package handler

import (
	"net/http"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

type bookingRequest struct {
	TableID         int64  `json:"tableId"`
	BookingDate     string `json:"bookingDate"`
	NumberOfGuests  int    `json:"numberOfGuests"`
	SpecialRequests string `json:"specialRequests"`
}

type operationalStatusRequest struct {
	OperationalStatus string `json:"operationalStatus"`
}

// CreateBooking бронирует столик для текущего пользователя.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	at, err := parseTime(req.BookingDate)
	if err != nil {
		badRequest(w, "bookingDate must be an RFC 3339 timestamp")
		return
	}

	b, err := h.service.CreateBooking(r.Context(), actorFrom(r), service.BookingRequest{
		TableID:         req.TableID,
		BookingDate:     at,
		NumberOfGuests:  req.NumberOfGuests,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// MyBookings возвращает брони текущего пользователя.
func (h *Handler) MyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.service.ListMyBookings(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ListBookings возвращает брони по фильтру status, from, to.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"))
	if err != nil {
		badRequest(w, "from must be a date")
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		badRequest(w, "to must be a date")
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), actorFrom(r), model.BookingFilter{
		Status: model.BookingStatus(q.Get("status")),
		From:   from,
		To:     to,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// GetBooking возвращает бронь владельцу или администратору.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid booking id")
		return
	}

	b, err := h.service.GetBooking(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking отменяет бронь.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid booking id")
		return
	}

	b, err := h.service.CancelBooking(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// SetOperationalStatus меняет ход визита по брони.
func (h *Handler) SetOperationalStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid booking id")
		return
	}

	var req operationalStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	b, err := h.service.SetOperationalStatus(r.Context(), actorFrom(r), id, req.OperationalStatus)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
