package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/railbook/apiserver/internal/auth"
	"github.com/railbook/apiserver/types"
)

// ErrInvalidRole is returned when a role name is not one of types.KnownRoles.
var ErrInvalidRole = errors.New("invalid role")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	UpdateProfile(ctx context.Context, user types.User) (types.User, error)
	SetRoles(ctx context.Context, userID int64, roles []string) error
}

// UserService encapsulates account use-cases outside the auth core.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	return s.repo.List(ctx, offset, limit)
}

// UpdateProfile changes the name and phone of a user. Email and roles are
// not touched. The name may not be blank, matching registration.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, fullName, phone string) (types.User, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return types.User{}, fmt.Errorf("%w: full name is required", auth.ErrInvalidInput)
	}
	return s.repo.UpdateProfile(ctx, types.User{
		ID:       userID,
		FullName: fullName,
		Phone:    strings.TrimSpace(phone),
	})
}

// SetRoles replaces the role memberships of a user. The new roles take
// effect on the user's next request.
func (s *UserService) SetRoles(ctx context.Context, userID int64, roles []string) (types.User, error) {
	if len(roles) == 0 {
		return types.User{}, fmt.Errorf("%w: at least one role is required", ErrInvalidRole)
	}
	for _, role := range roles {
		if !isKnownRole(role) {
			return types.User{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
	}
	if err := s.repo.SetRoles(ctx, userID, roles); err != nil {
		return types.User{}, err
	}
	return s.repo.GetByID(ctx, userID)
}

func isKnownRole(role string) bool {
	for _, known := range types.KnownRoles {
		if role == known {
			return true
		}
	}
	return false
}
