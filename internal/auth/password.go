package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const dummyPassword = "railbook-timing-equalizer"

type userByEmail interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
}

// CredentialVerifier checks an email and password against the stored hash.
// Unknown emails and wrong passwords produce the same error and take
// roughly the same time.
type CredentialVerifier struct {
	users     userByEmail
	cost      int
	dummyHash []byte
}

// NewCredentialVerifier hashes the dummy password up front so the first
// unknown-email login costs the same as any later one.
func NewCredentialVerifier(users userByEmail, cost int) *CredentialVerifier {
	cost = normalizeCost(cost)
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		panic(fmt.Sprintf("auth: hash dummy password: %v", err))
	}
	return &CredentialVerifier{users: users, cost: cost, dummyHash: dummyHash}
}

func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (types.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		v.burn(password)
		return types.User{}, ErrInvalidCredentials
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			v.burn(password)
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// burn runs a comparison against a fixed hash so a missing user costs the
// same as a wrong password.
func (v *CredentialVerifier) burn(password string) {
	_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
}

// blankPassword is the single rule for rejecting a new password as empty.
func blankPassword(password string) bool {
	return strings.TrimSpace(password) == ""
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string, cost int) (string, error) {
	if blankPassword(password) {
		return "", ErrInvalidInput
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), normalizeCost(cost))
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password longer than 72 bytes", ErrInvalidInput)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}
