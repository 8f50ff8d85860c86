package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/railbook/apiserver/internal/auth"
	"github.com/railbook/apiserver/internal/services"
	"github.com/railbook/apiserver/types"
	"github.com/sirupsen/logrus"
)

// UserHandler serves account administration and profile updates.
type UserHandler struct {
	userService *services.UserService
	logger      logrus.FieldLogger
}

func NewUserHandler(userService *services.UserService, logger logrus.FieldLogger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, userService *services.UserService, guard *Guard, logger logrus.FieldLogger) {
	handler := NewUserHandler(userService, logger)
	admins := auth.Roles(types.RoleAdmin)
	members := auth.Roles(types.RoleUser, types.RoleAdmin)

	r.Get("/", guard.Protect(Operation{Roles: admins, Handle: handler.ListUsers}))
	r.Put("/me", guard.Protect(Operation{Roles: members, Handle: handler.UpdateMe}))
	r.Put("/{userID}/roles", guard.Protect(Operation{Roles: admins, Handle: handler.SetRoles}))
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request, _ types.Principal) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.userService.List(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "list users")
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), principal.UserID, req.FullName, req.Phone)
	if err != nil {
		writeServiceError(w, h.logger, err, "update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) SetRoles(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SetRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.SetRoles(r.Context(), id, req.Roles)
	if err != nil {
		writeServiceError(w, h.logger, err, "set roles")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  id,
		"roles":    user.Roles,
		"actor_id": principal.UserID,
	}).Info("roles updated")
	writeJSON(w, http.StatusOK, user)
}

type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type SetRolesRequest struct {
	Roles []string `json:"roles"`
}

// UserListResponse is the paginated list response payload.
type UserListResponse struct {
	Items []types.User `json:"items"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int          `json:"total"`
}

func parseUserID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}
