// Package db provides PostgreSQL-backed repositories for subscriptions,
// users, sessions, pending invoices and the webhook audit log. All
// repositories accept a DBTX interface that is satisfied by both
// *pgxpool.Pool and pgx.Tx.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProbe reports database reachability for the health endpoint.
type HealthProbe struct {
	Pool Pinger
}

func (p HealthProbe) Name() string { return "database" }

func (p HealthProbe) Check(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nilIfZeroTime lets the column default (NOW()) apply when t is unset.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
