package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/restaurant-system/internal/middleware"
	"github.com/mmeshcher/restaurant-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware ресторанного сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if h.rateLimit != nil {
		r.Use(h.rateLimit)
	}

	r.Get("/health", h.Health)

	auth := custommiddleware.Auth(h.tokens)
	admin := custommiddleware.RequireRole(model.RoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)

			r.With(auth).Get("/me", h.Me)
			r.With(auth).Post("/change-password", h.ChangePassword)
		})

		r.Route("/menu", func(r chi.Router) {
			r.With(custommiddleware.OptionalAuth(h.tokens)).Get("/", h.ListMenu)
			r.Get("/{id}", h.GetMenuItem)

			r.Group(func(r chi.Router) {
				r.Use(auth, admin)
				r.Post("/", h.CreateMenuItem)
				r.Put("/{id}", h.UpdateMenuItem)
				r.Delete("/{id}", h.DeleteMenuItem)
			})
		})

		r.Route("/tables", func(r chi.Router) {
			r.Get("/available", h.AvailableTables)

			r.Group(func(r chi.Router) {
				r.Use(auth, admin)
				r.Get("/", h.ListTables)
				r.Post("/", h.CreateTable)
				r.Put("/{id}", h.UpdateTable)
				r.Delete("/{id}", h.DeleteTable)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Route("/bookings", func(r chi.Router) {
				r.Post("/", h.CreateBooking)
				r.Get("/me", h.MyBookings)
				r.With(admin).Get("/", h.ListBookings)
				r.Get("/{id}", h.GetBooking)
				r.Delete("/{id}/cancel", h.CancelBooking)
				r.With(admin).Put("/{id}/status", h.SetOperationalStatus)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/me", h.MyOrders)
				r.With(admin).Get("/", h.ListOrders)
				r.Get("/{id}", h.GetOrder)
				r.With(admin).Put("/{id}/status", h.UpdateOrderStatus)
				r.Delete("/{id}/cancel", h.CancelOrder)
				r.Post("/{id}/redeem", h.RedeemPoints)
				r.With(admin).Delete("/{id}", h.DeleteOrder)
			})

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Put("/items", h.SetCartItem)
				r.Delete("/items/{menuItemID}", h.RemoveCartItem)
				r.Delete("/", h.ClearCart)
				r.Post("/checkout", h.Checkout)
			})

			r.Route("/loyalty", func(r chi.Router) {
				r.Get("/me", h.LoyaltySummary)
				r.With(admin).Get("/admin/overview", h.LoyaltyOverview)
				r.With(admin).Patch("/admin/users/{identifier}/points", h.AdjustPoints)
			})

			r.With(admin).Get("/admin/dashboard", h.Dashboard)
		})

		r.Route("/contact", func(r chi.Router) {
			r.Post("/", h.SubmitContact)
			r.With(auth, admin).Get("/", h.ListContactMessages)
			r.With(auth, admin).Delete("/{id}", h.DeleteContactMessage)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "route not found"})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error:   "method_not_allowed",
			Message: http.StatusText(http.StatusMethodNotAllowed),
		})
	})

	return r
}
