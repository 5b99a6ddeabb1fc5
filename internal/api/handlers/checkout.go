package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"memberpay/internal/core"
	"memberpay/internal/external"
	"memberpay/internal/membership"
	"memberpay/internal/types"
)

// InvoiceClients resolves the invoicing client of an enabled provider.
type InvoiceClients interface {
	Get(p types.ProviderTag) (external.InvoiceClient, bool)
}

// PendingInvoiceWriter records checkouts for the reconciliation sweep.
type PendingInvoiceWriter interface {
	Create(ctx context.Context, inv *types.PendingInvoice) error
}

// SubscriptionReader reads the local subscription a settled invoice granted.
type SubscriptionReader interface {
	GetByKey(ctx context.Context, key types.SubscriptionKey) (*types.Subscription, error)
}

// CreateCheckoutRequest is the body of POST /v1/checkout/{provider}.
// OrderID is generated when absent.
type CreateCheckoutRequest struct {
	Tier    string `json:"tier" validate:"required,max=64"`
	OrderID string `json:"orderId" validate:"omitempty,max=128"`
}

// CheckoutResponse describes a freshly opened provider checkout.
type CheckoutResponse struct {
	InvoiceID    string              `json:"invoiceId"`
	CheckoutLink string              `json:"checkoutLink"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	ExpiresAt    *time.Time          `json:"expiresAt,omitempty"`
	Status       types.InvoiceStatus `json:"status"`
}

// CheckoutStatusResponse reports the provider-side state of an invoice.
type CheckoutStatusResponse struct {
	InvoiceID string              `json:"invoiceId"`
	Status    types.InvoiceStatus `json:"status"`
	IsPaid    bool                `json:"isPaid"`
	IsExpired bool                `json:"isExpired"`
	IsPending bool                `json:"isPending"`

	// Membership is the local subscription granted by a paid invoice, once
	// reconciliation has recorded it.
	Membership *CheckoutMembership `json:"membership,omitempty"`
}

// CheckoutMembership is the local side of a paid checkout.
type CheckoutMembership struct {
	SubscriptionID string                   `json:"subscriptionId"`
	Status         types.SubscriptionStatus `json:"status"`
	Tier           string                   `json:"tier,omitempty"`
}

// CheckoutHandler opens provider invoices for authenticated members and
// reports their status. Prices come from the tier registry, never from the
// client.
type CheckoutHandler struct {
	clients       InvoiceClients
	tiers         membership.Registry
	pending       PendingInvoiceWriter
	subs          SubscriptionReader
	validator     *core.Validator
	publicBaseURL string
	logger        *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler. pending may be nil, in which
// case checkouts are not tracked for the sweep. subs may be nil, in which
// case status reads report the provider side only.
func NewCheckoutHandler(
	clients InvoiceClients,
	tiers membership.Registry,
	pending PendingInvoiceWriter,
	subs SubscriptionReader,
	v *core.Validator,
	publicBaseURL string,
	l *slog.Logger,
) *CheckoutHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}

	return &CheckoutHandler{
		clients:       clients,
		tiers:         tiers,
		pending:       pending,
		subs:          subs,
		validator:     v,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        l,
	}
}

// RegisterRoutes mounts the checkout endpoints under the authenticated /v1
// group.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout/{provider}", h.Create)
	r.Get("/checkout/{provider}/status", h.Status)
}

// Create handles POST /v1/checkout/{provider}.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	tag, client, err := h.client(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tier, ok := h.tiers.Lookup(req.Tier)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTier, "unknown membership tier", nil).
			WithDetails(map[string]any{"allowed": h.tiers.Names()}))
		return
	}
	if tag == types.ProviderWhop && tier.WhopPlanID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTier,
			"membership tier is not available through this provider", nil))
		return
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	userID := strconv.FormatInt(actor.UserID, 10)

	inv, err := client.CreateInvoice(ctx, types.CreateInvoiceParams{
		Amount:      tier.Amount,
		Currency:    tier.Currency,
		OrderID:     orderID,
		PlanID:      tier.WhopPlanID,
		Description: tier.Description,
		NotifyURL:   h.publicBaseURL + "/webhooks/" + string(tag),
		RedirectURL: h.publicBaseURL + "/membership?order=" + orderID,
		Metadata: types.Metadata{
			"userId":  userID,
			"tier":    tier.Name,
			"orderId": orderID,
		},
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create provider invoice",
			"provider", string(tag),
			"user_id", actor.UserID,
			"error", err,
		)
		core.Error(w, r, upstreamError(err))
		return
	}

	amount := tier.Amount
	if inv.Amount != nil {
		amount = *inv.Amount
	}
	currency := tier.Currency
	if inv.Currency != "" {
		currency = inv.Currency
	}
	status := inv.Status
	if status == "" {
		status = types.InvoiceStatusNew
	}

	h.track(ctx, &types.PendingInvoice{
		Provider:  tag,
		InvoiceID: inv.ID,
		OrderID:   orderID,
		UserID:    actor.UserID,
		Tier:      tier.Name,
		Amount:    amount,
		Currency:  currency,
		Status:    status,
	})

	h.logger.InfoContext(ctx, "checkout created",
		"provider", string(tag),
		"invoice_id", inv.ID,
		"user_id", actor.UserID,
		"tier", tier.Name,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: CheckoutResponse{
		InvoiceID:    inv.ID,
		CheckoutLink: inv.CheckoutLink,
		Amount:       amount,
		Currency:     currency,
		ExpiresAt:    inv.ExpirationTime,
		Status:       status,
	}})
}

// Status handles GET /v1/checkout/{provider}/status?invoiceId=.
func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	tag, client, err := h.client(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	invoiceID := strings.TrimSpace(r.URL.Query().Get("invoiceId"))
	if invoiceID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "invoiceId is required", nil).
			WithDetails(map[string]any{"field": "invoiceId"}))
		return
	}

	inv, err := client.FetchInvoice(ctx, invoiceID)
	if err != nil {
		if external.IsNotFound(err) {
			core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", err))
			return
		}
		h.logger.ErrorContext(ctx, "failed to fetch provider invoice",
			"provider", string(tag),
			"invoice_id", invoiceID,
			"error", err,
		)
		core.Error(w, r, upstreamError(err))
		return
	}

	// Invoices opened by this service carry the owner; others are not
	// disclosed.
	if owner := inv.Metadata.Get("userId", "user_id"); owner != "" && owner != strconv.FormatInt(actor.UserID, 10) {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutStatusResponse{
		InvoiceID:  inv.ID,
		Status:     inv.Status,
		IsPaid:     inv.IsPaid(),
		IsExpired:  inv.IsExpired(),
		IsPending:  inv.IsPending(),
		Membership: h.membership(ctx, tag, inv, actor.UserID),
	}})
}

// membership looks up the subscription a paid invoice granted to userID.
// A lookup failure degrades to the provider-side status.
func (h *CheckoutHandler) membership(ctx context.Context, tag types.ProviderTag, inv *types.Invoice, userID int64) *CheckoutMembership {
	if h.subs == nil || !inv.IsPaid() {
		return nil
	}
	sub, err := h.subs.GetByKey(ctx, types.SubscriptionKey{
		Type:              tag.SubscriptionType(),
		ProviderInvoiceID: inv.SubscriptionResource(),
	})
	if err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundSubscription {
			h.logger.WarnContext(ctx, "failed to read subscription for invoice",
				"provider", string(tag),
				"invoice_id", inv.ID,
				"error", err,
			)
		}
		return nil
	}
	if sub.UserID != userID {
		return nil
	}
	return &CheckoutMembership{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		Tier:           sub.MembershipLevel,
	}
}

// client resolves the {provider} URL parameter to an invoicing client.
func (h *CheckoutHandler) client(r *http.Request) (types.ProviderTag, external.InvoiceClient, error) {
	tag := types.ProviderTag(chi.URLParam(r, "provider"))
	if !tag.Valid() {
		return "", nil, types.NewAppError(types.ErrCodeValidationUnknownProvider, "unknown payment provider", nil)
	}
	client, ok := h.clients.Get(tag)
	if !ok {
		return "", nil, types.NewAppError(types.ErrCodeValidationUnknownProvider, "payment provider is not enabled", nil)
	}
	return tag, client, nil
}

// track records the pending invoice. The provider invoice already exists, so
// a failure here is logged rather than failing the checkout; the webhook
// still settles it.
func (h *CheckoutHandler) track(ctx context.Context, inv *types.PendingInvoice) {
	if h.pending == nil {
		return
	}
	if err := h.pending.Create(ctx, inv); err != nil {
		h.logger.WarnContext(ctx, "failed to record pending invoice",
			"provider", string(inv.Provider),
			"invoice_id", inv.InvoiceID,
			"error", err,
		)
	}
}

// upstreamError maps an invoice client failure to the client-facing error.
// Provider messages stay in the server log.
func upstreamError(err error) error {
	var pe *external.ProviderError
	if errors.As(err, &pe) && pe.IsClientError() {
		return types.NewAppError(types.ErrCodeValidationProviderRejected, "the payment provider rejected the request", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamProviderUnavailable, "the payment provider is unavailable", err)
}
