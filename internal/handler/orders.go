package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

type orderItemRequest struct {
	MenuItem int64 `json:"menuItem"`
	Quantity int   `json:"quantity"`
}

type createOrderRequest struct {
	Items []orderItemRequest `json:"items"`
}

type orderStatusRequest struct {
	OrderStatus string `json:"orderStatus"`
}

type redeemRequest struct {
	Points         *int64 `json:"points"`
	PointsToRedeem *int64 `json:"pointsToRedeem"`
}

type cartItemRequest struct {
	MenuItem int64 `json:"menuItem"`
	Quantity int   `json:"quantity"`
}

type lineItemResponse struct {
	MenuItem int64   `json:"menuItem"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Subtotal float64 `json:"subtotal"`
}

type orderMetaResponse struct {
	PointsEarned     int64      `json:"pointsEarned"`
	PointsCredited   bool       `json:"pointsCredited"`
	PointsCreditedAt *time.Time `json:"pointsCreditedAt,omitempty"`
	RedeemedPoints   int64      `json:"redeemedPoints"`
	DiscountApplied  float64    `json:"discountApplied"`
}

type orderResponse struct {
	ID          int64              `json:"id"`
	UserID      int64              `json:"userId"`
	Items       []lineItemResponse `json:"items"`
	TotalAmount float64            `json:"totalAmount"`
	OrderStatus model.OrderStatus  `json:"orderStatus"`
	Meta        orderMetaResponse  `json:"meta"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type orderResultResponse struct {
	Order         orderResponse `json:"order"`
	PointsEarned  int64         `json:"pointsEarned"`
	CurrentPoints int64         `json:"currentPoints"`
}

func newOrderResponse(o *model.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemResponse{
			MenuItem: it.MenuItemID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    model.ToAmount(it.Price),
			Subtotal: model.ToAmount(it.Subtotal),
		})
	}

	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Items:       items,
		TotalAmount: model.ToAmount(o.TotalAmount),
		OrderStatus: o.OrderStatus,
		Meta: orderMetaResponse{
			PointsEarned:     o.Meta.PointsEarned,
			PointsCredited:   o.Meta.PointsCredited,
			PointsCreditedAt: o.Meta.PointsCreditedAt,
			RedeemedPoints:   o.Meta.RedeemedPoints,
			DiscountApplied:  model.ToAmount(o.Meta.DiscountApplied),
		},
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func newOrderList(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return resp
}

func newOrderResult(res *service.OrderResult) orderResultResponse {
	return orderResultResponse{
		Order:         newOrderResponse(res.Order),
		PointsEarned:  res.PointsEarned,
		CurrentPoints: res.CurrentPoints,
	}
}

// CreateOrder оформляет заказ навынос.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	items := make([]service.OrderItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.OrderItemInput{MenuItemID: it.MenuItem, Quantity: it.Quantity})
	}

	res, err := h.service.CreateOrder(r.Context(), actorFrom(r), items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResult(res))
}

// MyOrders возвращает заказы текущего пользователя.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListMyOrders(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderList(orders))
}

// ListOrders возвращает заказы по фильтру status (через запятую), from, to, user.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f model.OrderFilter
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, model.OrderStatus(st))
			}
		}
	}
	if raw := q.Get("user"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			badRequest(w, "user must be a numeric id")
			return
		}
		f.UserID = id
	}

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		badRequest(w, "from must be a date")
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		badRequest(w, "to must be a date")
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actorFrom(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderList(orders))
}

// GetOrder возвращает заказ владельцу или администратору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}

	o, err := h.service.GetOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// UpdateOrderStatus меняет статус заказа.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}

	var req orderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), actorFrom(r), id, req.OrderStatus)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// CancelOrder отменяет заказ и откатывает баллы.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}

	res, err := h.service.CancelOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResult(res))
}

// RedeemPoints списывает баллы в счёт заказа.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}

	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	var points int64
	switch {
	case req.Points != nil:
		points = *req.Points
	case req.PointsToRedeem != nil:
		points = *req.PointsToRedeem
	}

	res, err := h.service.RedeemPoints(r.Context(), actorFrom(r), id, points)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResult(res))
}

// DeleteOrder удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}

	if err := h.service.DeleteOrder(r.Context(), actorFrom(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Cart(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// SetCartItem задаёт количество позиции в корзине.
func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.MenuItem <= 0 {
		badRequest(w, "menuItem is required")
		return
	}

	items, err := h.service.SetCartItem(r.Context(), actorFrom(r), req.MenuItem, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// RemoveCartItem удаляет позицию из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "menuItemID")
	if !ok {
		badRequest(w, "invalid menu item id")
		return
	}

	items, err := h.service.RemoveCartItem(r.Context(), actorFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ClearCart очищает корзину.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCart(r.Context(), actorFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout оформляет заказ из корзины.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Checkout(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResult(res))
}
