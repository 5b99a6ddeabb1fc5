// Package config defines the configuration structure for the memberpay
// services. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"memberpay/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for secret fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"memberpay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	BTCPay   BTCPayConfig
	Whop     WhopConfig
	Stripe   StripeConfig
	Webhook  WebhookConfig
	AWS      AWSConfig
	Sweep    SweepConfig
	Security SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// PublicBaseURL is used to build provider notify/redirect URLs (no trailing slash).
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL               SecretString  `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"5s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BTCPayConfig configures the crypto invoicing provider.
type BTCPayConfig struct {
	Enabled       bool          `envconfig:"BTCPAY_ENABLED" default:"true"`
	BaseURL       string        `envconfig:"BTCPAY_URL" validate:"required_if=Enabled true,omitempty,url"`
	APIKey        SecretString  `envconfig:"BTCPAY_API_KEY"`
	StoreID       string        `envconfig:"BTCPAY_STORE_ID" validate:"required_if=Enabled true"`
	WebhookSecret SecretString  `envconfig:"BTCPAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"BTCPAY_TIMEOUT" default:"10s"`
}

// WhopConfig configures the membership platform provider.
type WhopConfig struct {
	Enabled       bool          `envconfig:"WHOP_ENABLED" default:"true"`
	BaseURL       string        `envconfig:"WHOP_URL" default:"https://api.whop.com" validate:"omitempty,url"`
	APIKey        SecretString  `envconfig:"WHOP_API_KEY"`
	WebhookSecret SecretString  `envconfig:"WHOP_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"WHOP_TIMEOUT" default:"10s"`

	// PlanIDs maps tier names to Whop plan ids: "member:plan_a,patron:plan_b".
	PlanIDs map[string]string `envconfig:"WHOP_PLAN_IDS"`
}

// StripeConfig configures the card processor webhook intake.
type StripeConfig struct {
	Enabled       bool         `envconfig:"STRIPE_ENABLED" default:"false"`
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`

	// SecretKey enables checkout creation and invoice re-fetch. Without it
	// Stripe is webhook-only.
	SecretKey SecretString  `envconfig:"STRIPE_SECRET_KEY"`
	BaseURL   string        `envconfig:"STRIPE_URL" default:"https://api.stripe.com" validate:"omitempty,url"`
	Timeout   time.Duration `envconfig:"STRIPE_TIMEOUT" default:"10s"`
}

// WebhookConfig governs inbound webhook handling.
type WebhookConfig struct {
	// AllowUnverified permits processing webhooks for a provider whose signing
	// secret is not configured. It must be set explicitly; the default refuses
	// to start without secrets.
	AllowUnverified bool  `envconfig:"WEBHOOK_ALLOW_UNVERIFIED" default:"false"`
	MaxBodyBytes    int64 `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536" validate:"min=1024"`
}

// AWSConfig holds AWS resource identifiers. Empty values disable the
// corresponding integration.
type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	DisputeQueueURL  string `envconfig:"DISPUTE_QUEUE_URL" validate:"omitempty,url"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Memberpay"`
	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// SweepConfig tunes the reconciliation sweep over pending invoices.
type SweepConfig struct {
	StaleAfter  time.Duration `envconfig:"SWEEP_STALE_AFTER" default:"15m"`
	MaxAge      time.Duration `envconfig:"SWEEP_MAX_AGE" default:"72h"`
	Limit       int           `envconfig:"SWEEP_LIMIT" default:"100" validate:"min=1"`
	Concurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4" validate:"min=1,max=32"`
}

// SecurityConfig holds browser-facing security settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via linker flags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}
