package types

import (
	"crypto/subtle"
	"time"
)

const (
	// RoleUser is granted to every registered account.
	RoleUser = "ROLE_USER"
	// RoleAdmin is granted to operators of the booking catalogue.
	RoleAdmin = "ROLE_ADMIN"
)

// KnownRoles lists the role names seeded by the initial migration.
var KnownRoles = []string{RoleUser, RoleAdmin}

// User represents an account in the system.
// It contains identity, role membership, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Email is the unique login identifier. It is compared case-sensitively
	// and never changes after registration.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// FullName is the user's display name.
	FullName string `json:"full_name" db:"full_name"`

	// Phone is the user's contact number.
	Phone string `json:"phone" db:"phone"`

	// IsVerified reports whether the email address has been confirmed.
	IsVerified bool `json:"is_verified" db:"is_verified"`

	// IsActive reports whether the account has been activated.
	IsActive bool `json:"is_active" db:"is_active"`

	// PasswordResetToken holds the pending one-time recovery token, if any.
	// It is cleared by the first successful password reset.
	PasswordResetToken *string `json:"-" db:"password_reset_token"`

	// Roles lists the role names held by the user.
	Roles []string `json:"roles" db:"-"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPendingReset reports whether a password reset was requested and not yet consumed.
func (u User) HasPendingReset() bool {
	return u.PasswordResetToken != nil && *u.PasswordResetToken != ""
}

// Principal is the identity resolved for a single authenticated request.
// It is passed explicitly to authorization and handler code and never stored.
type Principal struct {
	UserID int64    `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

// Session is the server-side record of the one live access token of a user.
type Session struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Matches reports whether token is byte-identical to the stored token and
// the session has not expired at now.
func (s Session) Matches(token string, now time.Time) bool {
	if s.Token == "" || token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return false
	}
	return s.ExpiresAt.After(now)
}
