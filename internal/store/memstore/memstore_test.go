package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	created, err := repo.Create(ctx, types.User{
		Email:    "Ada@example.com",
		FullName: "Ada",
		Roles:    []string{types.RoleUser, "ROLE_UNKNOWN", types.RoleUser},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, []string{types.RoleUser}, created.Roles)

	_, err = repo.GetByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound, "email lookup is case-sensitive")

	_, err = repo.Create(ctx, types.User{Email: "Ada@example.com"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	created, err := repo.Create(ctx, types.User{Email: "a@example.com", Roles: []string{types.RoleUser}})
	require.NoError(t, err)

	created.Roles[0] = types.RoleAdmin

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{types.RoleUser}, stored.Roles)
}

func TestUserRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		_, err := repo.Create(ctx, types.User{Email: email})
		require.NoError(t, err)
	}

	users, total, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, users, 1)
	assert.Equal(t, "b@x.com", users[0].Email)

	users, _, err = repo.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_PasswordResetTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	user, err := repo.Create(ctx, types.User{Email: "a@x.com", PasswordHash: "old"})
	require.NoError(t, err)

	require.NoError(t, repo.SetPasswordResetToken(ctx, user.ID, "tok"))
	assert.ErrorIs(t, repo.ConsumePasswordResetToken(ctx, user.ID, "other", "new"), store.ErrNotFound)
	require.NoError(t, repo.ConsumePasswordResetToken(ctx, user.ID, "tok", "new"))
	assert.ErrorIs(t, repo.ConsumePasswordResetToken(ctx, user.ID, "tok", "newer"), store.ErrNotFound)

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.PasswordHash)
	assert.False(t, stored.HasPendingReset())
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now()

	require.NoError(t, repo.StartSession(ctx, 1, "first", now.Add(time.Hour)))
	live, err := repo.IsLive(ctx, 1, "first", now)
	require.NoError(t, err)
	assert.True(t, live)

	require.NoError(t, repo.StartSession(ctx, 1, "second", now.Add(time.Hour)))
	live, _ = repo.IsLive(ctx, 1, "first", now)
	assert.False(t, live)

	require.NoError(t, repo.EndSession(ctx, 1))
	live, _ = repo.IsLive(ctx, 1, "second", now)
	assert.False(t, live)
	require.NoError(t, repo.EndSession(ctx, 1))
}
