// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//  6. Apply cross-field rules the tags cannot express.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrParsing    ConfigErrorType = "PARSING"
	ErrValidation ConfigErrorType = "VALIDATION"
	ErrSecrets    ConfigErrorType = "SECRETS"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// dotenvLoader matches godotenv.Load and is swapped in tests.
type dotenvLoader func(filenames ...string) error

// LoadConfig loads and validates the service configuration from the process
// environment and an optional .env file.
func LoadConfig() (*Config, error) {
	return loadConfigWith(godotenv.Load)
}

func loadConfigWith(loadDotenv dotenvLoader) (*Config, error) {
	time.Local = time.UTC

	// godotenv.Load does NOT override existing environment variables, and a
	// missing .env file is not an error for us.
	_ = loadDotenv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkWebhookSecrets(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkWebhookSecrets refuses to start when an enabled provider has no
// signing secret, unless unverified mode was explicitly requested.
func checkWebhookSecrets(cfg *Config) error {
	if cfg.Webhook.AllowUnverified {
		return nil
	}

	var missing []string
	if cfg.BTCPay.Enabled && !cfg.BTCPay.WebhookSecret.IsSet() {
		missing = append(missing, "BTCPAY_WEBHOOK_SECRET")
	}
	if cfg.Whop.Enabled && !cfg.Whop.WebhookSecret.IsSet() {
		missing = append(missing, "WHOP_WEBHOOK_SECRET")
	}
	if cfg.Stripe.Enabled && !cfg.Stripe.WebhookSecret.IsSet() {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) == 0 {
		return nil
	}

	return &ConfigError{
		Type: ErrSecrets,
		Message: fmt.Sprintf(
			"webhook signing secrets missing (%s); set them or WEBHOOK_ALLOW_UNVERIFIED=true",
			strings.Join(missing, ", "),
		),
	}
}
