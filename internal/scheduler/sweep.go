package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
	"memberpay/internal/webhook"
)

// sweepEventType tags envelopes synthesized by the sweep so the subscription
// audit metadata shows where the grant came from.
const sweepEventType = "sweep.invoice_paid"

// PendingInvoiceStore is the pending_invoices access the sweep needs.
type PendingInvoiceStore interface {
	ListStale(ctx context.Context, now time.Time, staleAfter, maxAge time.Duration, limit int) ([]types.PendingInvoice, error)
	MarkStatus(ctx context.Context, provider types.ProviderTag, invoiceID, orderID string, status types.InvoiceStatus) (int64, error)
	Touch(ctx context.Context, provider types.ProviderTag, invoiceID string) error
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InvoiceSource resolves a provider's invoicing client.
type InvoiceSource interface {
	Get(p types.ProviderTag) (external.InvoiceClient, bool)
}

// Reconciler applies a settlement the sweep confirmed.
type Reconciler interface {
	ApplyTag(ctx context.Context, tag types.ProviderTag, env *webhook.Envelope, outcome webhook.Outcome) (webhook.Result, error)
}

// SweepConfig tunes one sweep run.
type SweepConfig struct {
	StaleAfter  time.Duration
	MaxAge      time.Duration
	Limit       int
	Concurrency int
	// Providers lists the providers whose invoices can be polled. Rows of
	// other providers are touched and left to their webhooks.
	Providers []types.ProviderTag
}

// SweepResult summarizes one run.
type SweepResult struct {
	Checked int
	Settled int
	Expired int
	Failed  int
	// AgedOut counts rows expired for exceeding MaxAge.
	AgedOut int64
}

// Sweeper re-checks pending invoices whose webhook never arrived and feeds
// paid ones into the reconciliation engine.
type Sweeper struct {
	pending  PendingInvoiceStore
	invoices InvoiceSource
	engine   Reconciler
	metrics  metrics.SweepMetrics
	cfg      SweepConfig
	polled   map[types.ProviderTag]bool
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. metrics may be nil.
func NewSweeper(
	pending PendingInvoiceStore,
	invoices InvoiceSource,
	engine Reconciler,
	m metrics.SweepMetrics,
	cfg SweepConfig,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}

	polled := make(map[types.ProviderTag]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		polled[p] = true
	}

	return &Sweeper{
		pending:  pending,
		invoices: invoices,
		engine:   engine,
		metrics:  m,
		cfg:      cfg,
		polled:   polled,
		logger:   logger,
	}
}

// Run checks up to Limit stale invoices, then expires rows older than MaxAge.
// Per-invoice failures are logged and counted; only listing and expiry
// failures abort the run.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	stale, err := s.pending.ListStale(ctx, now, s.cfg.StaleAfter, s.cfg.MaxAge, s.cfg.Limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("listing stale invoices: %w", err)
	}

	var (
		mu  sync.Mutex
		res SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := range stale {
		inv := stale[i]
		g.Go(func() error {
			outcome := s.check(gctx, &inv)

			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			switch outcome {
			case checkSettled:
				res.Settled++
			case checkExpired:
				res.Expired++
			case checkFailed:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.cfg.MaxAge > 0 {
		n, err := s.pending.ExpireOlderThan(ctx, now.Add(-s.cfg.MaxAge))
		if err != nil {
			s.metrics.RecordSweep(ctx, res.Checked, res.Settled, res.Failed)
			return res, fmt.Errorf("expiring old invoices: %w", err)
		}
		res.AgedOut = n
	}

	s.metrics.RecordSweep(ctx, res.Checked, res.Settled, res.Failed)
	s.logger.InfoContext(ctx, "pending invoice sweep complete",
		"checked", res.Checked,
		"settled", res.Settled,
		"expired", res.Expired,
		"failed", res.Failed,
		"aged_out", res.AgedOut,
	)
	return res, nil
}

type checkOutcome int

const (
	checkPending checkOutcome = iota
	checkSettled
	checkExpired
	checkFailed
)

func (s *Sweeper) check(ctx context.Context, inv *types.PendingInvoice) checkOutcome {
	log := s.logger.With("provider", string(inv.Provider), "invoice_id", inv.InvoiceID)

	if !s.polled[inv.Provider] {
		s.touch(ctx, log, inv)
		return checkPending
	}

	client, ok := s.invoices.Get(inv.Provider)
	if !ok {
		log.WarnContext(ctx, "no invoice client for pending invoice")
		s.touch(ctx, log, inv)
		return checkFailed
	}

	fetched, err := client.FetchInvoice(ctx, inv.InvoiceID)
	if err != nil {
		log.ErrorContext(ctx, "failed to fetch pending invoice", "error", err)
		s.touch(ctx, log, inv)
		return checkFailed
	}

	switch {
	case fetched.IsPaid():
		return s.settle(ctx, log, inv, fetched)

	case fetched.IsExpired():
		if _, err := s.pending.MarkStatus(ctx, inv.Provider, inv.InvoiceID, "", fetched.Status); err != nil {
			log.ErrorContext(ctx, "failed to mark invoice expired", "error", err)
			return checkFailed
		}
		return checkExpired

	default:
		s.touch(ctx, log, inv)
		return checkPending
	}
}

func (s *Sweeper) settle(ctx context.Context, log *slog.Logger, inv *types.PendingInvoice, fetched *types.Invoice) checkOutcome {
	userID := strconv.FormatInt(inv.UserID, 10)
	amount := fetched.Amount
	if amount == nil {
		a := inv.Amount
		amount = &a
	}
	currency := fetched.Currency
	if currency == "" {
		currency = inv.Currency
	}

	env := &webhook.Envelope{
		EventID:    "sweep:" + inv.InvoiceID,
		EventType:  sweepEventType,
		ResourceID: fetched.SubscriptionResource(),
		Metadata: fetched.Metadata.Merge(types.Metadata{
			"userId":     userID,
			"tier":       inv.Tier,
			"orderId":    inv.OrderID,
			"invoice_id": inv.InvoiceID,
		}),
		UserID:   userID,
		Amount:   amount,
		Currency: currency,
	}

	res, err := s.engine.ApplyTag(ctx, inv.Provider, env, webhook.PaymentSettled)
	if err != nil {
		log.ErrorContext(ctx, "failed to apply swept settlement", "error", err)
		return checkFailed
	}

	switch res.Action {
	case webhook.ActionCreated, webhook.ActionDuplicate:
		if _, err := s.pending.MarkStatus(ctx, inv.Provider, inv.InvoiceID, inv.OrderID, types.InvoiceStatusSettled); err != nil {
			log.ErrorContext(ctx, "failed to mark invoice settled", "error", err)
		}
		log.InfoContext(ctx, "pending invoice settled by sweep", "action", string(res.Action))
		return checkSettled
	default:
		log.WarnContext(ctx, "paid invoice not granted", "action", string(res.Action))
		s.touch(ctx, log, inv)
		return checkFailed
	}
}

func (s *Sweeper) touch(ctx context.Context, log *slog.Logger, inv *types.PendingInvoice) {
	if err := s.pending.Touch(ctx, inv.Provider, inv.InvoiceID); err != nil {
		log.WarnContext(ctx, "failed to touch pending invoice", "error", err)
	}
}
