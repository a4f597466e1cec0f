package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/restaurant-system/internal/middleware"
	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

const refreshCookieName = "refreshToken"

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type authResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	u, pair, err := h.service.RegisterUser(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	setAuthCookies(w, pair)
	writeJSON(w, http.StatusCreated, authResponse{User: u, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		badRequest(w, "email and password are required")
		return
	}

	u, pair, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, authResponse{User: u, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// Refresh выдаёт новую пару токенов по refresh-токену из cookie или тела запроса.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := refreshTokenFrom(r)
	if raw == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "refresh token is required"})
		return
	}

	pair, err := h.service.RefreshTokens(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, pair)
}

// Logout отзывает refresh-токен и очищает cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := refreshTokenFrom(r); raw != "" {
		if err := h.service.Logout(r.Context(), raw); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.CurrentUser(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ChangePassword меняет пароль текущего пользователя.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	if err := h.service.ChangePassword(r.Context(), actorFrom(r), req.OldPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshTokenFrom читает токен из cookie, а при его отсутствии из тела запроса.
func refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		_ = decodeJSON(r, &req)
	}
	return req.RefreshToken
}

func setAuthCookies(w http.ResponseWriter, pair *model.TokenPair) {
	setCookie(w, middleware.AccessCookieName, pair.AccessToken, 0)
	setCookie(w, refreshCookieName, pair.RefreshToken, 0)
}

func clearAuthCookies(w http.ResponseWriter) {
	setCookie(w, middleware.AccessCookieName, "", -1)
	setCookie(w, refreshCookieName, "", -1)
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.Expires = time.Unix(0, 0)
	}
	http.SetCookie(w, c)
}
