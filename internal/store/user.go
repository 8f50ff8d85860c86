package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/railbook/apiserver/types"
)

const selectUserColumns = `
		SELECT u.id, u.email, u.password_hash, u.full_name, u.phone, u.is_verified, u.is_active,
			u.password_reset_token, u.created_at, u.updated_at,
			COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}') AS roles
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		LEFT JOIN roles r ON r.id = ur.role_id`

// UserRepository handles persistence for users and their role memberships.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var resetToken sql.NullString
	var roles pq.StringArray
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Phone,
		&user.IsVerified,
		&user.IsActive,
		&resetToken,
		&user.CreatedAt,
		&user.UpdatedAt,
		&roles,
	); err != nil {
		return types.User{}, err
	}
	if resetToken.Valid {
		token := resetToken.String
		user.PasswordResetToken = &token
	}
	user.Roles = []string(roles)
	if user.Roles == nil {
		user.Roles = []string{}
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg any) (types.User, error) {
	query := selectUserColumns + "\n\t\tWHERE " + where + "\n\t\tGROUP BY u.id"
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	return r.getOne(ctx, "u.id = $1", id)
}

// GetByEmail matches the email exactly; addresses are case-sensitive identifiers.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.getOne(ctx, "u.email = $1", email)
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM users`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := selectUserColumns + `
		GROUP BY u.id
		ORDER BY u.id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

// Create inserts the user and its role memberships in one transaction.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertUser = `
		INSERT INTO users (email, password_hash, full_name, phone, is_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertUser,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Phone,
		user.IsVerified,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}

	if len(user.Roles) > 0 {
		if err := insertRoles(ctx, tx, user.ID, user.Roles); err != nil {
			return types.User{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// UpdateProfile writes the mutable profile fields. Email, password and
// role membership have dedicated operations.
func (r *UserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE users
		SET full_name = $1,
			phone = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, user.FullName, user.Phone, user.UpdatedAt, user.ID)
	if err != nil {
		return types.User{}, err
	}
	if err := expectAffected(result); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, user.ID)
}

// SetRoles replaces the role memberships of a user. Unknown role names are ignored.
func (r *UserRepository) SetRoles(ctx context.Context, userID int64, roles []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const touch = `UPDATE users SET updated_at = $1 WHERE id = $2`
	result, err := tx.ExecContext(ctx, touch, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if err := expectAffected(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(roles) > 0 {
		if err := insertRoles(ctx, tx, userID, roles); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetPasswordResetToken stores token as the pending recovery token,
// replacing any earlier one.
func (r *UserRepository) SetPasswordResetToken(ctx context.Context, userID int64, token string) error {
	const query = `
		UPDATE users
		SET password_reset_token = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, token, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// ConsumePasswordResetToken sets the new password hash and clears the
// pending token, but only while token is still the stored one. A second
// consume of the same token affects no rows and returns ErrNotFound.
func (r *UserRepository) ConsumePasswordResetToken(ctx context.Context, userID int64, token, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			password_reset_token = NULL,
			updated_at = $2
		WHERE id = $3 AND password_reset_token = $4`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now().UTC(), userID, token)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func insertRoles(ctx context.Context, tx *sql.Tx, userID int64, roles []string) error {
	const query = `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = ANY($2)
		ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, userID, pq.Array(roles)); err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	return nil
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
