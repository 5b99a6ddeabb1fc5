package db

import (
	"context"
	"time"

	"memberpay/internal/types"
)

// PendingInvoiceRepository tracks checkouts opened with a provider until
// they settle, expire or age out. The reconciliation sweep reads it.
type PendingInvoiceRepository struct {
	db DBTX
}

// NewPendingInvoiceRepository creates a new PendingInvoiceRepository backed
// by the given database connection (pool or transaction).
func NewPendingInvoiceRepository(db DBTX) *PendingInvoiceRepository {
	return &PendingInvoiceRepository{db: db}
}

// Create records a freshly opened checkout. Re-creating the same
// (provider, invoice_id) is a no-op.
func (r *PendingInvoiceRepository) Create(ctx context.Context, inv *types.PendingInvoice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO pending_invoices (
			provider, invoice_id, order_id, user_id, tier, amount, currency, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		ON CONFLICT (provider, invoice_id) DO NOTHING`,
		inv.Provider,
		inv.InvoiceID,
		nilIfEmpty(inv.OrderID),
		inv.UserID,
		inv.Tier,
		inv.Amount,
		inv.Currency,
		inv.Status,
		nilIfZeroTime(inv.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record pending invoice", err)
	}
	return nil
}

// MarkStatus updates the invoice matched by invoiceID, or by orderID when
// orderID is set. Settled rows are final. Expired and Invalid rows only move
// to Settled, so a late pending event cannot reopen them for the sweep.
func (r *PendingInvoiceRepository) MarkStatus(
	ctx context.Context,
	provider types.ProviderTag,
	invoiceID, orderID string,
	status types.InvoiceStatus,
) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_invoices
		 SET status = $1, checked_at = NOW()
		 WHERE provider = $2
		   AND (invoice_id = $3 OR ($4 <> '' AND order_id = $4))
		   AND status <> 'Settled'
		   AND (status NOT IN ('Expired', 'Invalid') OR $1 = 'Settled')`,
		status,
		provider,
		invoiceID,
		orderID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update pending invoice", err)
	}
	return tag.RowsAffected(), nil
}

// Touch records that the invoice was checked without changing its status.
func (r *PendingInvoiceRepository) Touch(ctx context.Context, provider types.ProviderTag, invoiceID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pending_invoices SET checked_at = NOW() WHERE provider = $1 AND invoice_id = $2`,
		provider,
		invoiceID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch pending invoice", err)
	}
	return nil
}

// ListStale returns up to limit unpaid invoices created between maxAge and
// staleAfter ago, oldest check first.
func (r *PendingInvoiceRepository) ListStale(ctx context.Context, now time.Time, staleAfter, maxAge time.Duration, limit int) ([]types.PendingInvoice, error) {
	rows, err := r.db.Query(ctx,
		`SELECT provider, invoice_id, order_id, user_id, tier, amount, currency, status, created_at, checked_at
		 FROM pending_invoices
		 WHERE status IN ('New', 'Processing')
		   AND created_at <= $1
		   AND created_at > $2
		 ORDER BY checked_at ASC NULLS FIRST, created_at ASC
		 LIMIT $3`,
		now.Add(-staleAfter),
		now.Add(-maxAge),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending invoices", err)
	}
	defer rows.Close()

	var out []types.PendingInvoice
	for rows.Next() {
		var p types.PendingInvoice
		var orderID *string
		if err := rows.Scan(
			&p.Provider, &p.InvoiceID, &orderID, &p.UserID, &p.Tier,
			&p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.CheckedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pending invoice", err)
		}
		p.OrderID = derefString(orderID)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate pending invoices", err)
	}
	return out, nil
}

// ExpireOlderThan marks unpaid invoices created before cutoff as Expired.
func (r *PendingInvoiceRepository) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_invoices
		 SET status = 'Expired', checked_at = NOW()
		 WHERE status IN ('New', 'Processing') AND created_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire pending invoices", err)
	}
	return tag.RowsAffected(), nil
}
