package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"memberpay/internal/external"
	"memberpay/internal/types"
)

// DefaultMembershipLevel is recorded when neither the event nor the invoice
// names a tier.
const DefaultMembershipLevel = "member"

// Action is what Apply did with an event.
type Action string

const (
	ActionCreated    Action = "created"
	ActionDuplicate  Action = "duplicate"
	ActionUpdated    Action = "updated"
	ActionNoop       Action = "noop"
	ActionIgnored    Action = "ignored"
	ActionUnresolved Action = "unresolved"
)

// Result describes the effect of one Apply call.
type Result struct {
	Action         Action
	SubscriptionID string
	Rows           int64
}

// SubscriptionStore is the write side of the subscriptions table.
type SubscriptionStore interface {
	// CreateIfAbsent inserts sub unless a row with the same key exists.
	// created=false is the duplicate signal.
	CreateIfAbsent(ctx context.Context, sub *types.Subscription) (created bool, err error)
	// UpdateStatus moves the keyed row to `to` when its current status is one
	// of from. REFUNDED rows never match.
	UpdateStatus(ctx context.Context, key types.SubscriptionKey, to types.SubscriptionStatus, from ...types.SubscriptionStatus) (int64, error)
	MergeMetadata(ctx context.Context, key types.SubscriptionKey, meta types.Metadata) (int64, error)
}

// PendingInvoiceStore tracks checkouts this service opened.
type PendingInvoiceStore interface {
	// MarkStatus updates the row matching invoiceID, or orderID when set.
	MarkStatus(ctx context.Context, provider types.ProviderTag, invoiceID, orderID string, status types.InvoiceStatus) (int64, error)
}

// InvoiceSource returns the invoice client for a provider.
type InvoiceSource interface {
	Get(p types.ProviderTag) (external.InvoiceClient, bool)
}

// DisputeSink receives disputes for manual review.
type DisputeSink interface {
	EnqueueDispute(ctx context.Context, notice types.DisputeNotice) error
}

// EngineDeps are the collaborators of an Engine. Subscriptions and Users are
// required; the rest are optional.
type EngineDeps struct {
	Subscriptions SubscriptionStore
	Users         UserLookup
	Pending       PendingInvoiceStore
	Invoices      InvoiceSource
	Disputes      DisputeSink
	Resolvers     []UserResolver
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine applies classified events to subscription state. It returns an
// error only for storage failures.
type Engine struct {
	subs      SubscriptionStore
	users     UserLookup
	pending   PendingInvoiceStore
	invoices  InvoiceSource
	disputes  DisputeSink
	resolvers []UserResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires an Engine. Resolvers default to DefaultResolvers.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Subscriptions == nil {
		return nil, fmt.Errorf("webhook: engine requires a subscription store")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("webhook: engine requires a user lookup")
	}
	e := &Engine{
		subs:      deps.Subscriptions,
		users:     deps.Users,
		pending:   deps.Pending,
		invoices:  deps.Invoices,
		disputes:  deps.Disputes,
		resolvers: deps.Resolvers,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if len(e.resolvers) == 0 {
		e.resolvers = DefaultResolvers()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Apply runs the transition for outcome against the row keyed by
// (provider type, env.ResourceID).
func (e *Engine) Apply(ctx context.Context, p Provider, env *Envelope, outcome Outcome) (Result, error) {
	return e.ApplyTag(ctx, p.Tag(), env, outcome)
}

// ApplyTag is Apply for callers that hold no Provider, such as the
// reconciliation sweep, which builds envelopes from fetched invoices.
func (e *Engine) ApplyTag(ctx context.Context, tag types.ProviderTag, env *Envelope, outcome Outcome) (Result, error) {
	key := types.SubscriptionKey{Type: tag.SubscriptionType(), ProviderInvoiceID: env.ResourceID}
	log := e.logger.With(
		"provider", string(tag),
		"event_id", env.EventID,
		"event_type", env.EventType,
		"resource_id", env.ResourceID,
		"outcome", string(outcome),
	)

	switch outcome {
	case PaymentSettled, MembershipActivated:
		return e.grant(ctx, log, tag, key, env, outcome)

	case MembershipDeactivated:
		return e.transition(ctx, log, key, types.SubStatusInactive, types.SubStatusActive)

	case Refund:
		return e.transition(ctx, log, key, types.SubStatusRefunded,
			types.SubStatusActive, types.SubStatusInactive, types.SubStatusCancelled)

	case MembershipCancellationChanged:
		v := env.Metadata.Get("cancel_at_period_end")
		if v == "" {
			log.InfoContext(ctx, "cancellation change without flag")
			return Result{Action: ActionNoop}, nil
		}
		rows, err := e.subs.MergeMetadata(ctx, key, types.Metadata{"cancel_at_period_end": v})
		if err != nil {
			return Result{}, fmt.Errorf("merge subscription metadata: %w", err)
		}
		if rows == 0 {
			return Result{Action: ActionNoop}, nil
		}
		return Result{Action: ActionUpdated, Rows: rows}, nil

	case Dispute:
		e.enqueueDispute(ctx, log, tag, env)
		return Result{Action: ActionNoop}, nil

	case PaymentFailed, InvoiceExpired, InvoiceInvalid, PaymentPendingOrReceived:
		log.InfoContext(ctx, "payment funnel event")
		e.markPending(ctx, log, tag, env, outcome.pendingStatus())
		return Result{Action: ActionNoop}, nil

	default:
		log.InfoContext(ctx, "unrecognized webhook event")
		return Result{Action: ActionIgnored}, nil
	}
}

func (e *Engine) grant(ctx context.Context, log *slog.Logger, tag types.ProviderTag, key types.SubscriptionKey, env *Envelope, outcome Outcome) (Result, error) {
	if env.NeedsRefetch {
		confirmed, ok := e.refetch(ctx, log, tag, env)
		if !ok {
			return Result{Action: ActionIgnored}, nil
		}
		env = confirmed
	}

	if outcome == MembershipActivated {
		rows, err := e.subs.UpdateStatus(ctx, key, types.SubStatusActive,
			types.SubStatusInactive, types.SubStatusCancelled)
		if err != nil {
			return Result{}, fmt.Errorf("reactivate subscription: %w", err)
		}
		if rows > 0 {
			log.InfoContext(ctx, "subscription reactivated")
			return Result{Action: ActionUpdated, Rows: rows}, nil
		}
	}

	userID, ok, err := resolveUser(ctx, env, e.users, e.resolvers)
	if err != nil {
		return Result{}, fmt.Errorf("resolve user: %w", err)
	}
	if !ok {
		log.WarnContext(ctx, "webhook user unresolved",
			"has_email", env.Email != "" || env.Metadata.Get("email", "buyerEmail") != "",
			"has_username", env.Username != "" || env.Metadata.Get("username") != "",
		)
		return Result{Action: ActionUnresolved}, nil
	}

	sub := e.newSubscription(tag, key, userID, env)
	created, err := e.subs.CreateIfAbsent(ctx, sub)
	if err != nil {
		return Result{}, fmt.Errorf("create subscription: %w", err)
	}
	if !created {
		log.InfoContext(ctx, "duplicate settlement ignored")
		return Result{Action: ActionDuplicate}, nil
	}

	log.InfoContext(ctx, "subscription created", "subscription_id", sub.ID, "user_id", userID)
	e.markPending(ctx, log, tag, env, types.InvoiceStatusSettled)
	return Result{Action: ActionCreated, SubscriptionID: sub.ID, Rows: 1}, nil
}

// refetch confirms payment with the provider API. ok=false means the event
// must not grant access.
func (e *Engine) refetch(ctx context.Context, log *slog.Logger, tag types.ProviderTag, env *Envelope) (*Envelope, bool) {
	var client external.InvoiceClient
	if e.invoices != nil {
		client, _ = e.invoices.Get(tag)
	}
	if client == nil {
		log.WarnContext(ctx, "refetch required but provider has no invoice client")
		return nil, false
	}

	inv, err := client.FetchInvoice(ctx, env.ResourceID)
	if err != nil {
		log.ErrorContext(ctx, "invoice refetch failed", "error", err)
		return nil, false
	}
	if !inv.IsPaid() {
		log.InfoContext(ctx, "invoice not paid on refetch", "invoice_status", string(inv.Status))
		return nil, false
	}

	merged := *env
	merged.Metadata = env.Metadata.Merge(inv.Metadata)
	if inv.Amount != nil {
		merged.Amount = inv.Amount
	}
	if inv.Currency != "" {
		merged.Currency = inv.Currency
	}
	return &merged, true
}

func (e *Engine) transition(ctx context.Context, log *slog.Logger, key types.SubscriptionKey, to types.SubscriptionStatus, from ...types.SubscriptionStatus) (Result, error) {
	rows, err := e.subs.UpdateStatus(ctx, key, to, from...)
	if err != nil {
		return Result{}, fmt.Errorf("update subscription status to %s: %w", to, err)
	}
	if rows == 0 {
		log.InfoContext(ctx, "no subscription in a state that allows transition", "to", string(to))
		return Result{Action: ActionNoop}, nil
	}
	log.InfoContext(ctx, "subscription status changed", "to", string(to))
	return Result{Action: ActionUpdated, Rows: rows}, nil
}

func (e *Engine) newSubscription(tag types.ProviderTag, key types.SubscriptionKey, userID int64, env *Envelope) *types.Subscription {
	now := e.now().UTC()
	level := env.Metadata.Get("tier")
	if level == "" {
		level = DefaultMembershipLevel
	}

	meta := env.Metadata.Merge(types.Metadata{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"provider":   string(tag),
	})

	return &types.Subscription{
		ID:                uuid.NewString(),
		UserID:            userID,
		Type:              key.Type,
		Status:            types.SubStatusActive,
		StartDate:         env.OccurredAt(now),
		ProviderInvoiceID: key.ProviderInvoiceID,
		ProviderStoreID:   env.StoreID,
		ProviderProductID: env.ProductID,
		Amount:            env.Amount,
		Currency:          env.Currency,
		MembershipLevel:   level,
		Metadata:          meta,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (e *Engine) markPending(ctx context.Context, log *slog.Logger, tag types.ProviderTag, env *Envelope, status types.InvoiceStatus) {
	if e.pending == nil || status == "" {
		return
	}
	if _, err := e.pending.MarkStatus(ctx, tag, env.ResourceID, env.OrderID(), status); err != nil {
		log.ErrorContext(ctx, "failed to update pending invoice", "status", string(status), "error", err)
	}
}

func (e *Engine) enqueueDispute(ctx context.Context, log *slog.Logger, tag types.ProviderTag, env *Envelope) {
	log.WarnContext(ctx, "payment dispute received")
	if e.disputes == nil {
		return
	}
	notice := types.DisputeNotice{
		Provider:   tag,
		EventID:    env.EventID,
		EventType:  env.EventType,
		ResourceID: env.ResourceID,
		Amount:     env.Amount,
		Currency:   env.Currency,
		Metadata:   env.Metadata,
		ReceivedAt: e.now().UTC(),
	}
	if err := e.disputes.EnqueueDispute(ctx, notice); err != nil {
		log.ErrorContext(ctx, "failed to enqueue dispute", "error", err)
	}
}
