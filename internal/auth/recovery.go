package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
)

// RecoveryFlow issues and consumes one-time password reset tokens. A user
// has at most one pending token; issuing a new one replaces the old.
type RecoveryFlow struct {
	users    UserRepository
	cost     int
	newToken func() string
}

func NewRecoveryFlow(users UserRepository, cost int) *RecoveryFlow {
	return &RecoveryFlow{users: users, cost: cost, newToken: uuid.NewString}
}

// RequestReset stores a fresh token on the user and returns it with the user.
func (f *RecoveryFlow) RequestReset(ctx context.Context, email string) (types.User, string, error) {
	if strings.TrimSpace(email) == "" {
		return types.User{}, "", ErrInvalidInput
	}

	user, err := f.lookup(ctx, email)
	if err != nil {
		return types.User{}, "", err
	}

	token := f.newToken()
	if err := f.users.SetPasswordResetToken(ctx, user.ID, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, "", ErrNotFound
		}
		return types.User{}, "", fmt.Errorf("store reset token: %w", err)
	}
	return user, token, nil
}

// ConsumeReset sets a new password if token is the user's pending token,
// clearing it in the same write. Unknown email, no pending reset and a
// wrong token all return ErrNotFound.
func (f *RecoveryFlow) ConsumeReset(ctx context.Context, email, token, newPassword string) (types.User, error) {
	if strings.TrimSpace(token) == "" || blankPassword(newPassword) {
		return types.User{}, ErrInvalidInput
	}

	user, err := f.lookup(ctx, email)
	if err != nil {
		return types.User{}, err
	}
	if !user.HasPendingReset() ||
		subtle.ConstantTimeCompare([]byte(*user.PasswordResetToken), []byte(token)) != 1 {
		return types.User{}, ErrNotFound
	}

	hashed, err := HashPassword(newPassword, f.cost)
	if err != nil {
		return types.User{}, err
	}

	// A concurrent consume that won the race leaves nothing to match.
	if err := f.users.ConsumePasswordResetToken(ctx, user.ID, token, hashed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("consume reset token: %w", err)
	}
	return user, nil
}

func (f *RecoveryFlow) lookup(ctx context.Context, email string) (types.User, error) {
	user, err := f.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}
