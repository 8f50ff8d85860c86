package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/railbook/apiserver/types"
)

// SessionRepository keeps the single live access token of each user in the
// user_sessions table. Every mutation is one statement on one row, so
// concurrent logins and logouts for the same user resolve last-write-wins.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// StartSession replaces whatever session the user had with the given token.
func (r *SessionRepository) StartSession(ctx context.Context, userID int64, token string, expiry time.Time) error {
	const query = `
		INSERT INTO user_sessions (user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at`
	_, err := r.db.ExecContext(ctx, query, userID, token, expiry.UTC(), time.Now().UTC())
	return err
}

// EndSession removes the user's session. Ending an absent session is not an error.
func (r *SessionRepository) EndSession(ctx context.Context, userID int64) error {
	const query = `DELETE FROM user_sessions WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

func (r *SessionRepository) Get(ctx context.Context, userID int64) (types.Session, error) {
	const query = `
		SELECT user_id, token, expires_at, created_at
		FROM user_sessions
		WHERE user_id = $1`
	var session types.Session
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&session.UserID,
		&session.Token,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, err
	}
	return session, nil
}

// IsLive reports whether token is the user's current token and unexpired at now.
func (r *SessionRepository) IsLive(ctx context.Context, userID int64, token string, now time.Time) (bool, error) {
	session, err := r.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return session.Matches(token, now), nil
}
