package webhook

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// UserLookup is the read side of the users table used for attribution.
// Find methods return ok=false, not an error, when nothing matches.
type UserLookup interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	FindIDByEmail(ctx context.Context, email string) (int64, bool, error)
	// FindIDByUsername matches username, then name. Ties resolve to the
	// lowest id.
	FindIDByUsername(ctx context.Context, username string) (int64, bool, error)
}

// UserResolver attributes an envelope to a local user. A non-nil error is a
// storage failure.
type UserResolver func(ctx context.Context, env *Envelope, users UserLookup) (int64, bool, error)

// DefaultResolvers is the resolution order: explicit id, then email, then
// username.
func DefaultResolvers() []UserResolver {
	return []UserResolver{ByExplicitID, ByEmail, ByUsername}
}

// ByExplicitID resolves metadata userId/user_id, then the provider's user id
// field, when it parses as a local id that exists.
func ByExplicitID(ctx context.Context, env *Envelope, users UserLookup) (int64, bool, error) {
	raw := env.Metadata.Get("userId", "user_id")
	if raw == "" {
		raw = env.UserID
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false, nil
	}
	ok, err := users.UserExists(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup user %d: %w", id, err)
	}
	if !ok {
		return 0, false, nil
	}
	return id, true, nil
}

// ByEmail resolves an exact match on the user's email.
func ByEmail(ctx context.Context, env *Envelope, users UserLookup) (int64, bool, error) {
	email := strings.TrimSpace(env.Metadata.Get("email", "buyerEmail"))
	if email == "" {
		email = strings.TrimSpace(env.Email)
	}
	if email == "" {
		return 0, false, nil
	}
	id, ok, err := users.FindIDByEmail(ctx, email)
	if err != nil {
		return 0, false, fmt.Errorf("lookup user by email: %w", err)
	}
	return id, ok, nil
}

// ByUsername resolves an exact match on username, falling back to name.
func ByUsername(ctx context.Context, env *Envelope, users UserLookup) (int64, bool, error) {
	username := strings.TrimSpace(env.Metadata.Get("username"))
	if username == "" {
		username = strings.TrimSpace(env.Username)
	}
	if username == "" {
		return 0, false, nil
	}
	id, ok, err := users.FindIDByUsername(ctx, username)
	if err != nil {
		return 0, false, fmt.Errorf("lookup user by username: %w", err)
	}
	return id, ok, nil
}

// resolveUser runs resolvers in order; the first ok wins.
func resolveUser(ctx context.Context, env *Envelope, users UserLookup, resolvers []UserResolver) (int64, bool, error) {
	for _, r := range resolvers {
		id, ok, err := r(ctx, env, users)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}
