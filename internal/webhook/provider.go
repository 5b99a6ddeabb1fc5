package webhook

import (
	"fmt"
	"log/slog"

	"memberpay/internal/types"
)

// Provider is the per-provider capability set the handler and engine need.
type Provider interface {
	Tag() types.ProviderTag
	// SignatureHeader names the request header carrying the signature.
	SignatureHeader() string
	// Verify checks the signature header against the raw body. It returns
	// ErrSignatureMissing or ErrSignatureInvalid on failure.
	Verify(body []byte, header string) error
	// Decode parses the raw body. Failures are *DecodeError.
	Decode(body []byte) (*Envelope, error)
	// Classify maps the decoded event to an Outcome.
	Classify(env *Envelope) Outcome
}

// ProviderConfig is shared by every provider constructor.
type ProviderConfig struct {
	Secret string
	// AllowUnverified builds the provider in unverified mode when Secret is
	// empty. Without it an empty Secret is a construction error.
	AllowUnverified bool
	Logger          *slog.Logger
}

// signer holds the verification mode common to the HMAC providers.
type signer struct {
	tag        types.ProviderTag
	secret     string
	format     SignatureFormat
	unverified bool
	logger     *slog.Logger
}

func newSigner(tag types.ProviderTag, cfg ProviderConfig, format SignatureFormat) (signer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := signer{tag: tag, secret: cfg.Secret, format: format, logger: logger}

	if cfg.Secret == "" {
		if !cfg.AllowUnverified {
			return signer{}, fmt.Errorf("%s: %w", tag, ErrSecretRequired)
		}
		s.unverified = true
		logger.Warn("webhook signature verification disabled", "provider", string(tag))
	}
	return s, nil
}

// Unverified reports whether the provider accepts unsigned deliveries.
func (s signer) Unverified() bool { return s.unverified }

func (s signer) Tag() types.ProviderTag { return s.tag }

func (s signer) verifyHMAC(body []byte, header string) error {
	if s.unverified {
		s.logger.Warn("webhook signature verification disabled", "provider", string(s.tag))
		return nil
	}
	if header == "" {
		return ErrSignatureMissing
	}
	if !VerifySignature(body, header, s.secret, s.format) {
		return ErrSignatureInvalid
	}
	return nil
}
