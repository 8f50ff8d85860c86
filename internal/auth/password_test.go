package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/railbook/apiserver/internal/store/memstore"
	"github.com/railbook/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type brokenUsers struct{}

func (brokenUsers) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return types.User{}, errors.New("connection refused")
}

func TestCredentialVerifier(t *testing.T) {
	ctx := context.Background()
	users := memstore.NewUserRepository()
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)
	_, err = users.Create(ctx, types.User{Email: "ada@example.com", PasswordHash: hash})
	require.NoError(t, err)

	verifier := NewCredentialVerifier(users, bcrypt.MinCost)

	user, err := verifier.Verify(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)

	_, wrongPassword := verifier.Verify(ctx, "ada@example.com", "battery staple")
	_, unknownEmail := verifier.Verify(ctx, "bob@example.com", "correct horse")
	_, otherCase := verifier.Verify(ctx, "ADA@example.com", "correct horse")
	_, blank := verifier.Verify(ctx, "", "")

	for _, err := range []error{wrongPassword, unknownEmail, otherCase, blank} {
		assert.Equal(t, ErrInvalidCredentials, err)
	}
}

func TestCredentialVerifierDummyHashReady(t *testing.T) {
	verifier := NewCredentialVerifier(memstore.NewUserRepository(), bcrypt.MinCost)
	require.NotEmpty(t, verifier.dummyHash)

	cost, err := bcrypt.Cost(verifier.dummyHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	before := verifier.dummyHash
	_, err = verifier.Verify(context.Background(), "nobody@example.com", "pw")
	assert.Equal(t, ErrInvalidCredentials, err)
	assert.Equal(t, before, verifier.dummyHash)
}

func TestCredentialVerifierStoreFailure(t *testing.T) {
	_, err := NewCredentialVerifier(brokenUsers{}, bcrypt.MinCost).Verify(context.Background(), "ada@example.com", "pw")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	for _, blank := range []string{"", "   ", "\t\n"} {
		_, err = HashPassword(blank, bcrypt.MinCost)
		assert.ErrorIs(t, err, ErrInvalidInput, "%q", blank)
	}

	_, err = HashPassword(strings.Repeat("x", 73), bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizeCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, normalizeCost(0))
	assert.Equal(t, bcrypt.DefaultCost, normalizeCost(99))
	assert.Equal(t, 12, normalizeCost(12))
}
