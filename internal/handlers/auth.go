package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/railbook/apiserver/internal/auth"
	"github.com/railbook/apiserver/internal/services"
	"github.com/railbook/apiserver/types"
	"github.com/sirupsen/logrus"
)

// AuthHandler provides login, logout, registration and password recovery.
type AuthHandler struct {
	authService *auth.Service
	userService *services.UserService
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewAuthHandler(authService *auth.Service, userService *services.UserService, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
		logger:      logger,
		now:         time.Now,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *auth.Service, userService *services.UserService, guard *Guard, logger logrus.FieldLogger) {
	handler := NewAuthHandler(authService, userService, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/forgot-password", handler.ForgotPassword)
	r.Post("/reset-password", handler.ResetPassword)
	r.Post("/logout", guard.Protect(Operation{Handle: handler.Logout}))
	r.Get("/me", guard.Protect(Operation{
		Roles:  auth.Roles(types.RoleUser, types.RoleAdmin),
		Handle: handler.Me,
	}))
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		FullName: strings.TrimSpace(req.FullName),
		Phone:    strings.TrimSpace(req.Phone),
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.Login(r.Context(), strings.TrimSpace(req.Email), req.Password, h.now())
	if err != nil {
		writeServiceError(w, h.logger, err, "authenticate")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: result.Token, ExpiresAt: result.Expiry})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	if err := h.authService.Logout(r.Context(), principal.UserID); err != nil {
		writeServiceError(w, h.logger, err, "log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	user, err := h.userService.GetByID(r.Context(), principal.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.authService.RequestPasswordReset(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		writeServiceError(w, h.logger, err, "request password reset")
		return
	}

	writeJSON(w, http.StatusOK, ForgotPasswordResponse{Token: token})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.authService.ConsumePasswordReset(r.Context(), strings.TrimSpace(req.Email), strings.TrimSpace(req.Token), req.NewPassword)
	if err != nil {
		writeServiceError(w, h.logger, err, "reset password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ForgotPasswordResponse struct {
	Token string `json:"token"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
