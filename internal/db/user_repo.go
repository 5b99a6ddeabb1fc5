package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"memberpay/internal/types"
)

// UserRepository provides read access to the users table for payment
// attribution. Users are created and managed elsewhere.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// UserExists reports whether a user with id exists.
func (r *UserRepository) UserExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check user", err)
	}
	return exists, nil
}

// FindIDByEmail matches email exactly.
func (r *UserRepository) FindIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	return r.findID(ctx,
		`SELECT id FROM users WHERE email = $1 ORDER BY id ASC LIMIT 1`,
		email,
	)
}

// FindIDByUsername matches username exactly, then name. Ties resolve to the
// lowest id.
func (r *UserRepository) FindIDByUsername(ctx context.Context, username string) (int64, bool, error) {
	id, ok, err := r.findID(ctx,
		`SELECT id FROM users WHERE username = $1 ORDER BY id ASC LIMIT 1`,
		username,
	)
	if err != nil || ok {
		return id, ok, err
	}
	return r.findID(ctx,
		`SELECT id FROM users WHERE name = $1 ORDER BY id ASC LIMIT 1`,
		username,
	)
}

func (r *UserRepository) findID(ctx context.Context, query string, arg string) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, query, arg).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up user", err)
	}
	return id, true, nil
}
