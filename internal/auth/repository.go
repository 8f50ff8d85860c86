package auth

import (
	"context"
	"time"

	"github.com/railbook/apiserver/types"
)

// UserRepository is the persistence the auth core needs. Lookups return
// store.ErrNotFound for missing rows.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetPasswordResetToken(ctx context.Context, userID int64, token string) error
	// ConsumePasswordResetToken stores passwordHash and clears the reset
	// token only if token is still the pending one.
	ConsumePasswordResetToken(ctx context.Context, userID int64, token, passwordHash string) error
}

// SessionStore holds the single live access token of each user.
type SessionStore interface {
	// StartSession replaces any previous session of the user.
	StartSession(ctx context.Context, userID int64, token string, expiry time.Time) error
	EndSession(ctx context.Context, userID int64) error
	// IsLive reports whether token is the user's current token and has not
	// expired at now.
	IsLive(ctx context.Context, userID int64, token string, now time.Time) (bool, error)
}
