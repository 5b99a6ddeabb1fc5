package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"memberpay/internal/types"
)

// SessionRepository resolves bearer session tokens. Sessions are issued by
// the member site; only the sha256 of a token is stored.
type SessionRepository struct {
	db  DBTX
	now func() time.Time
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// HashToken returns the stored form of a raw session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ResolveToken maps a raw token to the member it belongs to.
func (r *SessionRepository) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	var (
		actor     types.Actor
		email     *string
		expiresAt time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT s.id, s.user_id, u.email, s.expires_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1`,
		HashToken(token),
	).Scan(&actor.SessionID, &actor.UserID, &email, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid session token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve session", err)
	}
	if !expiresAt.After(r.now()) {
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}
	actor.Email = derefString(email)
	return &actor, nil
}
