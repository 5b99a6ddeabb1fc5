package core

import (
	"context"

	"memberpay/internal/types"
)

// Authenticator decouples the HTTP layer from session storage.
type Authenticator interface {
	// ResolveToken maps a raw session token to the member it belongs to.
	//
	// It returns an AppError with ErrCodeAuthTokenInvalid when the token is
	// unknown, and ErrCodeAuthSessionExpired when it exists but has lapsed.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// HealthProbe is a subsystem check reported by GET /health.
type HealthProbe interface {
	// Name identifies the probe in the response ("database", "sqs").
	Name() string
	// Check returns nil when the subsystem is reachable. It must honor the
	// context deadline.
	Check(ctx context.Context) error
}
