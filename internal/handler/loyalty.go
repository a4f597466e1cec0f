package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

type adjustPointsRequest struct {
	Delta  *int64 `json:"delta"`
	Points *int64 `json:"points"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// LoyaltySummary возвращает баланс и историю баллов текущего пользователя.
func (h *Handler) LoyaltySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.LoyaltySummary(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// LoyaltyOverview возвращает сводку программы лояльности.
func (h *Handler) LoyaltyOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.LoyaltyOverview(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// AdjustPoints вручную корректирует баланс пользователя по id или email.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req adjustPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	u, err := h.service.AdjustPoints(r.Context(), actorFrom(r), chi.URLParam(r, "identifier"), model.PointsAdjustment{
		Delta:  req.Delta,
		Points: req.Points,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SubmitContact принимает обращение из формы обратной связи.
func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	m, err := h.service.SubmitContact(r.Context(), service.ContactInput{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Subject: req.Subject,
		Message: req.Message,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListContactMessages возвращает входящие обращения.
func (h *Handler) ListContactMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.service.ListContactMessages(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// DeleteContactMessage удаляет обращение.
func (h *Handler) DeleteContactMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid message id")
		return
	}

	if err := h.service.DeleteContactMessage(r.Context(), actorFrom(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Dashboard возвращает счётчики панели администратора.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
