package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"memberpay/internal/types"
)

// SubscriptionRepository persists membership subscriptions.
//
// Key invariants:
//   - (type, provider_invoice_id) is unique. Inserts use ON CONFLICT DO
//     NOTHING; zero rows affected is the duplicate signal.
//   - REFUNDED rows are never updated.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a SubscriptionRepository backed by the
// given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

// CreateIfAbsent inserts sub. It returns false without error when a row with
// the same key already exists.
func (r *SubscriptionRepository) CreateIfAbsent(ctx context.Context, sub *types.Subscription) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
			id, user_id, type, status, start_date, end_date,
			provider_invoice_id, provider_store_id, provider_product_id,
			amount, currency, membership_level, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (type, provider_invoice_id) DO NOTHING`,
		sub.ID,
		sub.UserID,
		sub.Type,
		sub.Status,
		sub.StartDate,
		sub.EndDate,
		sub.ProviderInvoiceID,
		nilIfEmpty(sub.ProviderStoreID),
		nilIfEmpty(sub.ProviderProductID),
		sub.Amount,
		nilIfEmpty(sub.Currency),
		sub.MembershipLevel,
		sub.Metadata,
		sub.CreatedAt,
	)
	if err != nil {
		// A concurrent insert can still surface as 23505 on partial indexes.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatus moves the keyed row to `to` when its status is one of from.
// It returns the number of rows changed.
func (r *SubscriptionRepository) UpdateStatus(
	ctx context.Context,
	key types.SubscriptionKey,
	to types.SubscriptionStatus,
	from ...types.SubscriptionStatus,
) (int64, error) {
	if len(from) == 0 {
		return 0, nil
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1, updated_at = NOW(),
		     end_date = CASE WHEN $5 THEN NULL ELSE COALESCE(end_date, NOW()) END
		 WHERE type = $2
		   AND provider_invoice_id = $3
		   AND status <> 'REFUNDED'
		   AND status = ANY($4)`,
		to,
		key.Type,
		key.ProviderInvoiceID,
		allowed,
		to == types.SubStatusActive,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	return tag.RowsAffected(), nil
}

// MergeMetadata overlays meta onto the keyed row's metadata.
func (r *SubscriptionRepository) MergeMetadata(ctx context.Context, key types.SubscriptionKey, meta types.Metadata) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb, updated_at = NOW()
		 WHERE type = $2 AND provider_invoice_id = $3`,
		meta,
		key.Type,
		key.ProviderInvoiceID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to merge subscription metadata", err)
	}
	return tag.RowsAffected(), nil
}

// GetByKey returns the row for key, or a not_found AppError.
func (r *SubscriptionRepository) GetByKey(ctx context.Context, key types.SubscriptionKey) (*types.Subscription, error) {
	var s types.Subscription
	var storeID, productID, currency *string
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, type, status, start_date, end_date,
		        provider_invoice_id, provider_store_id, provider_product_id,
		        amount, currency, membership_level, metadata, created_at, updated_at
		 FROM subscriptions
		 WHERE type = $1 AND provider_invoice_id = $2`,
		key.Type,
		key.ProviderInvoiceID,
	).Scan(
		&s.ID, &s.UserID, &s.Type, &s.Status, &s.StartDate, &s.EndDate,
		&s.ProviderInvoiceID, &storeID, &productID,
		&s.Amount, &currency, &s.MembershipLevel, &s.Metadata, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscription", err)
	}
	s.ProviderStoreID = derefString(storeID)
	s.ProviderProductID = derefString(productID)
	s.Currency = derefString(currency)
	return &s, nil
}
