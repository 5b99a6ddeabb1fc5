package external

import (
	"log/slog"

	"memberpay/internal/config"
	"memberpay/internal/types"
)

// ClientRegistry holds the invoice client of every enabled provider that
// supports outbound invoicing. Stripe appears only when a secret key is set.
type ClientRegistry struct {
	clients map[types.ProviderTag]InvoiceClient
}

// NewClientRegistry builds clients for the enabled providers in cfg.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...BaseClientOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &ClientRegistry{clients: make(map[types.ProviderTag]InvoiceClient)}

	if cfg.BTCPay.Enabled {
		r.clients[types.ProviderBTCPay] = NewBTCPayClient(BTCPayClientConfig{
			BaseURL: cfg.BTCPay.BaseURL,
			APIKey:  cfg.BTCPay.APIKey.Unmask(),
			StoreID: cfg.BTCPay.StoreID,
			Timeout: cfg.BTCPay.Timeout,
			Logger:  logger.With("provider", string(types.ProviderBTCPay)),
		}, opts...)
	}
	if cfg.Whop.Enabled {
		r.clients[types.ProviderWhop] = NewWhopClient(WhopClientConfig{
			BaseURL: cfg.Whop.BaseURL,
			APIKey:  cfg.Whop.APIKey.Unmask(),
			Timeout: cfg.Whop.Timeout,
			Logger:  logger.With("provider", string(types.ProviderWhop)),
		}, opts...)
	}

	if cfg.Stripe.Enabled && cfg.Stripe.SecretKey.IsSet() {
		r.clients[types.ProviderStripe] = NewStripeClient(StripeClientConfig{
			SecretKey: cfg.Stripe.SecretKey.Unmask(),
			BaseURL:   cfg.Stripe.BaseURL,
			Timeout:   cfg.Stripe.Timeout,
			Logger:    logger.With("provider", string(types.ProviderStripe)),
		}, opts...)
	}

	return r
}

// NewStaticRegistry wraps pre-built clients. Tests use it to inject fakes.
func NewStaticRegistry(clients map[types.ProviderTag]InvoiceClient) *ClientRegistry {
	return &ClientRegistry{clients: clients}
}

// Get returns the client for p, or false when p has no invoicing client.
func (r *ClientRegistry) Get(p types.ProviderTag) (InvoiceClient, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.clients[p]
	return c, ok
}
