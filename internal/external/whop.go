package external

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"memberpay/internal/types"
)

const whopAPIBase = "https://api.whop.com"

// WhopClientConfig configures a WhopClient.
type WhopClientConfig struct {
	BaseURL string // defaults to whopAPIBase
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// WhopClient opens Whop checkout sessions and reads payments.
type WhopClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewWhopClient builds a client with its own breaker and the default retry
// policy.
func NewWhopClient(cfg WhopClientConfig, opts ...BaseClientOption) *WhopClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = whopAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WhopClient{
		base:    NewBaseClient(&http.Client{Timeout: timeout}, "whop", DefaultRetryPolicy(), opts...),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type whopCheckoutRequest struct {
	PlanID      string            `json:"plan_id"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type whopCheckoutSession struct {
	ID          string          `json:"id"`
	PurchaseURL string          `json:"purchase_url"`
	ExpiresAt   int64           `json:"expires_at"`
	PaymentID   string          `json:"payment_id"`
	Metadata    json.RawMessage `json:"metadata"`
}

type whopPayment struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   *int64          `json:"amount"`
	Currency string          `json:"currency"`
	Metadata json.RawMessage `json:"metadata"`
}

// CreateInvoice opens a checkout session for params.PlanID. Whop prices by
// plan, so params.Amount is informational and echoed back on the invoice.
func (c *WhopClient) CreateInvoice(ctx context.Context, params types.CreateInvoiceParams) (*types.Invoice, error) {
	if params.PlanID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "whop checkout requires a plan id", nil)
	}

	body, err := json.Marshal(whopCheckoutRequest{
		PlanID:      params.PlanID,
		RedirectURL: params.RedirectURL,
		Metadata:    types.Metadata{"orderId": params.OrderID}.Merge(params.Metadata),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode whop checkout", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/checkout_sessions", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build whop request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var session whopCheckoutSession
	if err := c.do(req, "CreateInvoice", &session); err != nil {
		return nil, err
	}

	amount := params.Amount
	inv := &types.Invoice{
		ID:           session.ID,
		CheckoutLink: session.PurchaseURL,
		Status:       types.InvoiceStatusNew,
		Amount:       &amount,
		Currency:     params.Currency,
		Metadata:     types.Metadata{"orderId": params.OrderID},
	}
	if session.ExpiresAt > 0 {
		t := time.Unix(session.ExpiresAt, 0).UTC()
		inv.ExpirationTime = &t
	}

	c.logger.InfoContext(ctx, "whop checkout session created",
		"invoice_id", inv.ID,
		"order_id", params.OrderID,
	)
	return inv, nil
}

// FetchInvoice reads a checkout session (ch_...) as returned by
// CreateInvoice, or a payment by id. A session is followed to its payment
// once one exists; until then it is New, or Expired past its expiry.
func (c *WhopClient) FetchInvoice(ctx context.Context, invoiceID string) (*types.Invoice, error) {
	if invoiceID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invoice id is required", nil)
	}
	if strings.HasPrefix(invoiceID, "ch_") {
		return c.fetchCheckoutSession(ctx, invoiceID)
	}

	p, err := c.fetchPayment(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return p.invoice(), nil
}

func (c *WhopClient) fetchCheckoutSession(ctx context.Context, id string) (*types.Invoice, error) {
	var session whopCheckoutSession
	if err := c.get(ctx, "/api/v2/checkout_sessions/"+url.PathEscape(id), &session); err != nil {
		return nil, err
	}

	meta := types.FlattenMetadata(session.Metadata)
	if session.PaymentID == "" {
		inv := &types.Invoice{
			ID:           session.ID,
			CheckoutLink: session.PurchaseURL,
			Status:       types.InvoiceStatusNew,
			Metadata:     meta,
		}
		if session.ExpiresAt > 0 {
			t := time.Unix(session.ExpiresAt, 0).UTC()
			inv.ExpirationTime = &t
			if time.Now().After(t) {
				inv.Status = types.InvoiceStatusExpired
			}
		}
		return inv, nil
	}

	p, err := c.fetchPayment(ctx, session.PaymentID)
	if err != nil {
		return nil, err
	}
	inv := p.invoice()
	inv.ID = session.ID
	inv.SettlementID = p.ID
	inv.CheckoutLink = session.PurchaseURL
	inv.Metadata = meta.Merge(inv.Metadata)
	return inv, nil
}

func (c *WhopClient) fetchPayment(ctx context.Context, id string) (*whopPayment, error) {
	var p whopPayment
	if err := c.get(ctx, "/api/v2/payments/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *whopPayment) invoice() *types.Invoice {
	return &types.Invoice{
		ID:       p.ID,
		Status:   WhopStatus(p.Status),
		Amount:   p.Amount,
		Currency: strings.ToUpper(p.Currency),
		Metadata: types.FlattenMetadata(p.Metadata),
	}
}

func (c *WhopClient) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build whop request", err)
	}
	return c.do(req, "FetchInvoice", dst)
}

func (c *WhopClient) do(req *http.Request, op string, dst any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readProviderError(req.Context(), c.logger, resp, types.ProviderWhop, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "malformed whop response", err)
	}
	return nil
}

// WhopStatus maps Whop payment statuses onto the normalized vocabulary.
// Unknown statuses read as New: still in flight, never paid.
func WhopStatus(s string) types.InvoiceStatus {
	switch strings.ToLower(s) {
	case "paid", "succeeded":
		return types.InvoiceStatusSettled
	case "pending":
		return types.InvoiceStatusNew
	case "failed", "refunded":
		return types.InvoiceStatusInvalid
	case "expired":
		return types.InvoiceStatusExpired
	default:
		return types.InvoiceStatusNew
	}
}

var _ InvoiceClient = (*WhopClient)(nil)
