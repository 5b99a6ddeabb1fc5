package external

import (
	"context"
	"errors"
	"fmt"

	"memberpay/internal/types"
)

// InvoiceClient creates and reads provider-side invoices. Implementations
// normalize the provider's status vocabulary into types.InvoiceStatus so
// callers only ever use the shared predicates.
type InvoiceClient interface {
	CreateInvoice(ctx context.Context, params types.CreateInvoiceParams) (*types.Invoice, error)
	FetchInvoice(ctx context.Context, invoiceID string) (*types.Invoice, error)
}

// ProviderError is a non-2xx response that survived BaseClient's retries,
// i.e. a definitive rejection by the provider.
type ProviderError struct {
	Provider   types.ProviderTag
	Operation  string
	StatusCode int
	// Message is the provider's response body (truncated). It is for server
	// logs only and must not reach API clients.
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: upstream returned %d: %s", e.Provider, e.Operation, e.StatusCode, e.Message)
}

// IsClientError reports whether the provider rejected the request (4xx).
func (e *ProviderError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == 404
}
