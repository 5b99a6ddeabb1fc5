package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"memberpay/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig configures a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to stripeAPIBase
	Timeout   time.Duration
	Logger    *slog.Logger
}

// StripeClient opens Checkout Sessions and reads their payment state. It
// speaks the REST API through BaseClient and decodes into stripe-go types.
//
// Invoice ids are either Checkout Session ids (cs_...) as returned from
// CreateInvoice, or PaymentIntent ids (pi_...) as carried by webhooks.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient builds a client with its own breaker.
func NewStripeClient(cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      NewBaseClient(&http.Client{Timeout: timeout}, "stripe", DefaultRetryPolicy(), opts...),
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateInvoice opens a one-off payment Checkout Session. Metadata is copied
// onto the PaymentIntent so webhook events carry it.
func (s *StripeClient) CreateInvoice(ctx context.Context, params types.CreateInvoiceParams) (*types.Invoice, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", params.OrderID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(params.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", params.Description)
	if params.RedirectURL != "" {
		form.Set("success_url", params.RedirectURL)
		form.Set("cancel_url", params.RedirectURL)
	}
	meta := types.Metadata{"orderId": params.OrderID}.Merge(params.Metadata)
	for k, v := range meta {
		form.Set("metadata["+k+"]", v)
		form.Set("payment_intent_data[metadata]["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var cs stripe.CheckoutSession
	if err := s.do(req, "CreateInvoice", &cs); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "stripe checkout session created",
		"invoice_id", cs.ID,
		"order_id", params.OrderID,
	)
	return mapCheckoutSession(&cs), nil
}

// FetchInvoice reads a Checkout Session or a PaymentIntent depending on the
// id prefix.
func (s *StripeClient) FetchInvoice(ctx context.Context, invoiceID string) (*types.Invoice, error) {
	if invoiceID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invoice id is required", nil)
	}

	path := "/v1/payment_intents/"
	if strings.HasPrefix(invoiceID, "cs_") {
		path = "/v1/checkout/sessions/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+url.PathEscape(invoiceID), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build stripe request", err)
	}

	if strings.HasPrefix(invoiceID, "cs_") {
		var cs stripe.CheckoutSession
		if err := s.do(req, "FetchInvoice", &cs); err != nil {
			return nil, err
		}
		return mapCheckoutSession(&cs), nil
	}

	var pi stripe.PaymentIntent
	if err := s.do(req, "FetchInvoice", &pi); err != nil {
		return nil, err
	}
	return mapPaymentIntent(&pi), nil
}

func (s *StripeClient) do(req *http.Request, op string, dst any) error {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.providerError(req.Context(), resp, op)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read stripe response", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "malformed stripe response", err)
	}
	return nil
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// providerError prefers Stripe's structured error message over the raw body.
func (s *StripeClient) providerError(ctx context.Context, resp *http.Response, op string) *ProviderError {
	pe := readProviderError(ctx, s.logger, resp, types.ProviderStripe, op)
	var se stripeErrorResponse
	if json.Unmarshal([]byte(pe.Message), &se) == nil && se.Error.Message != "" {
		pe.Message = fmt.Sprintf("%s: %s", se.Error.Type, se.Error.Message)
	}
	return pe
}

func mapCheckoutSession(cs *stripe.CheckoutSession) *types.Invoice {
	inv := &types.Invoice{
		ID:           cs.ID,
		CheckoutLink: cs.URL,
		Status:       checkoutSessionStatus(cs),
		Currency:     strings.ToUpper(string(cs.Currency)),
		Metadata:     types.Metadata(cs.Metadata),
	}
	if cs.AmountTotal > 0 {
		amt := cs.AmountTotal
		inv.Amount = &amt
	}
	if cs.PaymentIntent != nil {
		inv.SettlementID = cs.PaymentIntent.ID
	}
	if cs.ExpiresAt > 0 {
		t := time.Unix(cs.ExpiresAt, 0).UTC()
		inv.ExpirationTime = &t
	}
	return inv
}

func checkoutSessionStatus(cs *stripe.CheckoutSession) types.InvoiceStatus {
	switch {
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return types.InvoiceStatusSettled
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		return types.InvoiceStatusExpired
	default:
		// Complete but unpaid means an async payment method is still
		// confirming and can fail. It is not paid yet.
		return types.InvoiceStatusNew
	}
}

func mapPaymentIntent(pi *stripe.PaymentIntent) *types.Invoice {
	amt := pi.Amount
	return &types.Invoice{
		ID:       pi.ID,
		Status:   PaymentIntentStatus(pi.Status),
		Amount:   &amt,
		Currency: strings.ToUpper(string(pi.Currency)),
		Metadata: types.Metadata(pi.Metadata),
	}
}

// PaymentIntentStatus maps a PaymentIntent status onto the normalized
// vocabulary. Stripe's processing state can still fail, so it stays New;
// only succeeded counts as paid.
func PaymentIntentStatus(s stripe.PaymentIntentStatus) types.InvoiceStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return types.InvoiceStatusSettled
	case stripe.PaymentIntentStatusCanceled:
		return types.InvoiceStatusInvalid
	default:
		return types.InvoiceStatusNew
	}
}

var _ InvoiceClient = (*StripeClient)(nil)
