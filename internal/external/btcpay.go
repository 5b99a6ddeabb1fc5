package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"memberpay/internal/types"
)

// BTCPayClientConfig configures a BTCPayClient.
type BTCPayClientConfig struct {
	BaseURL string
	APIKey  string
	StoreID string
	Timeout time.Duration
	Logger  *slog.Logger
}

// BTCPayClient talks to a BTCPay Server Greenfield API store.
type BTCPayClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	storeID string
	logger  *slog.Logger
}

// NewBTCPayClient builds a client with its own breaker and the default retry
// policy. Extra options are applied to the underlying BaseClient.
func NewBTCPayClient(cfg BTCPayClientConfig, opts ...BaseClientOption) *BTCPayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &BTCPayClient{
		base:    NewBaseClient(&http.Client{Timeout: timeout}, "btcpay", DefaultRetryPolicy(), opts...),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		storeID: cfg.StoreID,
		logger:  logger,
	}
}

type btcpayCheckoutOptions struct {
	RedirectURL       string `json:"redirectURL,omitempty"`
	RedirectAutomatic bool   `json:"redirectAutomatically,omitempty"`
}

type btcpayCreateRequest struct {
	Amount   string                `json:"amount"`
	Currency string                `json:"currency"`
	Metadata map[string]string     `json:"metadata,omitempty"`
	Checkout btcpayCheckoutOptions `json:"checkout"`
}

type btcpayInvoice struct {
	ID             string          `json:"id"`
	CheckoutLink   string          `json:"checkoutLink"`
	Status         string          `json:"status"`
	ExpirationTime int64           `json:"expirationTime"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency"`
	Metadata       json.RawMessage `json:"metadata"`
}

// CreateInvoice opens an invoice for params.Amount in the configured store.
// The order id and description travel in invoice metadata, where the
// webhook flow reads them back on re-fetch.
func (c *BTCPayClient) CreateInvoice(ctx context.Context, params types.CreateInvoiceParams) (*types.Invoice, error) {
	meta := types.Metadata{
		"orderId":  params.OrderID,
		"itemDesc": params.Description,
	}.Merge(params.Metadata)

	body, err := json.Marshal(btcpayCreateRequest{
		Amount:   FormatMinorUnits(params.Amount),
		Currency: params.Currency,
		Metadata: meta,
		Checkout: btcpayCheckoutOptions{
			RedirectURL:       params.RedirectURL,
			RedirectAutomatic: params.RedirectURL != "",
		},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode btcpay invoice", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/stores/%s/invoices", c.baseURL, url.PathEscape(c.storeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build btcpay request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	inv, err := c.do(req, "CreateInvoice")
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "btcpay invoice created",
		"invoice_id", inv.ID,
		"order_id", params.OrderID,
	)
	return inv, nil
}

// FetchInvoice reads the current state of an invoice.
func (c *BTCPayClient) FetchInvoice(ctx context.Context, invoiceID string) (*types.Invoice, error) {
	if invoiceID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invoice id is required", nil)
	}

	endpoint := fmt.Sprintf("%s/api/v1/stores/%s/invoices/%s",
		c.baseURL, url.PathEscape(c.storeID), url.PathEscape(invoiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build btcpay request", err)
	}

	return c.do(req, "FetchInvoice")
}

func (c *BTCPayClient) do(req *http.Request, op string) (*types.Invoice, error) {
	req.Header.Set("Authorization", "token "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, readProviderError(req.Context(), c.logger, resp, types.ProviderBTCPay, op)
	}

	var raw btcpayInvoice
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "malformed btcpay invoice response", err)
	}
	return raw.normalize()
}

func (b btcpayInvoice) normalize() (*types.Invoice, error) {
	inv := &types.Invoice{
		ID:           b.ID,
		CheckoutLink: b.CheckoutLink,
		Status:       btcpayStatus(b.Status),
		Currency:     b.Currency,
		Metadata:     types.FlattenMetadata(b.Metadata),
	}
	if b.ExpirationTime > 0 {
		t := time.Unix(b.ExpirationTime, 0).UTC()
		inv.ExpirationTime = &t
	}
	if b.Amount != "" {
		amt, err := ParseMinorUnits(b.Amount)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "malformed btcpay invoice amount", err)
		}
		inv.Amount = &amt
	}
	return inv, nil
}

// btcpayStatus maps Greenfield statuses, which already use the normalized
// names. Unknown values are treated as Invalid so they never read as paid.
func btcpayStatus(s string) types.InvoiceStatus {
	switch types.InvoiceStatus(s) {
	case types.InvoiceStatusNew, types.InvoiceStatusProcessing, types.InvoiceStatusSettled,
		types.InvoiceStatusExpired, types.InvoiceStatusInvalid:
		return types.InvoiceStatus(s)
	default:
		return types.InvoiceStatusInvalid
	}
}

// readProviderError logs the upstream body and returns a ProviderError.
func readProviderError(ctx context.Context, logger *slog.Logger, resp *http.Response, provider types.ProviderTag, op string) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	logger.ErrorContext(ctx, "provider api error",
		"provider", string(provider),
		"operation", op,
		"status_code", resp.StatusCode,
		"response_body", msg,
	)

	return &ProviderError{
		Provider:   provider,
		Operation:  op,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

var _ InvoiceClient = (*BTCPayClient)(nil)
