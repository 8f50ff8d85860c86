// Package memstore provides in-memory user and session repositories for
// single-process runs and tests. They honour the same contracts as the
// Postgres repositories in package store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
)

// UserRepository is a mutex-guarded map of users keyed by id.
type UserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]types.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]types.User)}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	if offset >= total {
		return []types.User{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	users := make([]types.User, 0, end-offset)
	for _, id := range ids[offset:end] {
		users = append(users, cloneUser(r.users[id]))
	}
	return users, total, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}

	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Roles = knownRoles(user.Roles)
	r.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	existing.FullName = user.FullName
	existing.Phone = user.Phone
	existing.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = existing
	return cloneUser(existing), nil
}

// SetRoles mirrors the Postgres repository: names missing from the role
// table are dropped silently.
func (r *UserRepository) SetRoles(ctx context.Context, userID int64, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Roles = knownRoles(roles)
	existing.UpdatedAt = time.Now().UTC()
	r.users[userID] = existing
	return nil
}

func (r *UserRepository) SetPasswordResetToken(ctx context.Context, userID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	existing.PasswordResetToken = &token
	existing.UpdatedAt = time.Now().UTC()
	r.users[userID] = existing
	return nil
}

func (r *UserRepository) ConsumePasswordResetToken(ctx context.Context, userID int64, token, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[userID]
	if !ok || existing.PasswordResetToken == nil || *existing.PasswordResetToken != token {
		return store.ErrNotFound
	}
	existing.PasswordHash = passwordHash
	existing.PasswordResetToken = nil
	existing.UpdatedAt = time.Now().UTC()
	r.users[userID] = existing
	return nil
}

// SessionRepository keeps one session per user in memory.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[int64]types.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[int64]types.Session)}
}

func (r *SessionRepository) StartSession(ctx context.Context, userID int64, token string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[userID] = types.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiry,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *SessionRepository) EndSession(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, userID)
	return nil
}

func (r *SessionRepository) IsLive(ctx context.Context, userID int64, token string, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[userID]
	if !ok {
		return false, nil
	}
	return session.Matches(token, now), nil
}

func cloneUser(user types.User) types.User {
	if user.Roles != nil {
		user.Roles = append([]string(nil), user.Roles...)
	}
	if user.PasswordResetToken != nil {
		token := *user.PasswordResetToken
		user.PasswordResetToken = &token
	}
	return user
}

func knownRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if _, dup := seen[role]; dup {
			continue
		}
		for _, known := range types.KnownRoles {
			if role == known {
				out = append(out, role)
				seen[role] = struct{}{}
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
