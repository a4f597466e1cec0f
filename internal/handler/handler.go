// Package handler содержит HTTP-обработчики API ресторанного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/middleware"
	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	RegisterUser(ctx context.Context, in service.RegisterInput) (*model.User, *model.TokenPair, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, *model.TokenPair, error)
	RefreshTokens(ctx context.Context, raw string) (*model.TokenPair, error)
	Logout(ctx context.Context, raw string) error
	CurrentUser(ctx context.Context, actor model.Actor) (*model.User, error)
	ChangePassword(ctx context.Context, actor model.Actor, current, next string) error

	ListMenu(ctx context.Context, actor model.Actor, category string) ([]model.MenuItem, error)
	GetMenuItem(ctx context.Context, id int64) (*model.MenuItem, error)
	CreateMenuItem(ctx context.Context, actor model.Actor, in service.MenuItemInput) (*model.MenuItem, error)
	UpdateMenuItem(ctx context.Context, actor model.Actor, id int64, in service.MenuItemInput) (*model.MenuItem, error)
	DeleteMenuItem(ctx context.Context, actor model.Actor, id int64) error

	AvailableTables(ctx context.Context, at *time.Time) ([]model.Table, error)
	ListTables(ctx context.Context, actor model.Actor) ([]model.Table, error)
	CreateTable(ctx context.Context, actor model.Actor, in service.TableInput) (*model.Table, error)
	UpdateTable(ctx context.Context, actor model.Actor, id int64, upd service.TableUpdate) (*model.Table, error)
	DeleteTable(ctx context.Context, actor model.Actor, id int64) error

	CreateBooking(ctx context.Context, actor model.Actor, req service.BookingRequest) (*model.Booking, error)
	GetBooking(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	ListMyBookings(ctx context.Context, actor model.Actor) ([]model.Booking, error)
	ListBookings(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]model.Booking, error)
	CancelBooking(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	SetOperationalStatus(ctx context.Context, actor model.Actor, id int64, value string) (*model.Booking, error)

	CreateOrder(ctx context.Context, actor model.Actor, items []service.OrderItemInput) (*service.OrderResult, error)
	GetOrder(ctx context.Context, actor model.Actor, id int64) (*model.Order, error)
	ListMyOrders(ctx context.Context, actor model.Actor) ([]model.Order, error)
	ListOrders(ctx context.Context, actor model.Actor, f model.OrderFilter) ([]model.Order, error)
	DeleteOrder(ctx context.Context, actor model.Actor, id int64) error
	UpdateOrderStatus(ctx context.Context, actor model.Actor, id int64, value string) (*model.Order, error)
	CancelOrder(ctx context.Context, actor model.Actor, id int64) (*service.OrderResult, error)
	RedeemPoints(ctx context.Context, actor model.Actor, id int64, points int64) (*service.OrderResult, error)

	Cart(ctx context.Context, actor model.Actor) ([]model.CartItem, error)
	SetCartItem(ctx context.Context, actor model.Actor, menuItemID int64, quantity int) ([]model.CartItem, error)
	RemoveCartItem(ctx context.Context, actor model.Actor, menuItemID int64) ([]model.CartItem, error)
	ClearCart(ctx context.Context, actor model.Actor) error
	Checkout(ctx context.Context, actor model.Actor) (*service.OrderResult, error)

	LoyaltySummary(ctx context.Context, actor model.Actor) (*model.LoyaltySummary, error)
	LoyaltyOverview(ctx context.Context, actor model.Actor) (*model.LoyaltyOverview, error)
	AdjustPoints(ctx context.Context, actor model.Actor, identifier string, adj model.PointsAdjustment) (*model.User, error)

	SubmitContact(ctx context.Context, in service.ContactInput) (*model.ContactMessage, error)
	ListContactMessages(ctx context.Context, actor model.Actor) ([]model.ContactMessage, error)
	DeleteContactMessage(ctx context.Context, actor model.Actor, id int64) error
	Dashboard(ctx context.Context, actor model.Actor) (*model.Dashboard, error)
}

// Handler реализует HTTP-обработчики API ресторанного сервиса.
type Handler struct {
	service   Service
	logger    *zap.Logger
	tokens    middleware.TokenParser
	rateLimit func(http.Handler) http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// rateLimit может быть nil.
func NewHandler(s Service, logger *zap.Logger, tokens middleware.TokenParser, rateLimit func(http.Handler) http.Handler) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		tokens:    tokens,
		rateLimit: rateLimit,
	}
}

// Health отвечает 200, если хранилище доступно.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatuses = []struct {
	kind   error
	status int
}{
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrConflict, http.StatusConflict},
	{service.ErrInvalidState, http.StatusUnprocessableEntity},
	{service.ErrInsufficientBalance, http.StatusPaymentRequired},
	{service.ErrAlreadyRedeemed, http.StatusConflict},
	{service.ErrUnavailable, http.StatusBadRequest},
	{service.ErrUnauthorized, http.StatusUnauthorized},
}

// writeError переводит ошибку сервиса в HTTP-ответ. Неизвестные ошибки
// пишутся в журнал и отдаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.kind) {
			writeJSON(w, e.status, errorResponse{Error: e.kind.Error(), Message: service.Message(err)})
			return
		}
	}

	h.logger.Error("request failed",
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "internal",
		Message: http.StatusText(http.StatusInternalServerError),
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrInvalidInput.Error(), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func actorFrom(r *http.Request) model.Actor {
	actor, _ := middleware.ActorFromContext(r.Context())
	return actor
}

// pathID разбирает числовой параметр маршрута.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseTime принимает RFC 3339 или дату в формате 2006-01-02.
func parseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
