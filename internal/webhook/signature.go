// Package webhook turns provider webhook deliveries into subscription state.
//
// Each provider implements Provider: it verifies the delivery signature,
// decodes the body into an Envelope, and classifies the event into an
// Outcome through a static table. The Engine applies outcomes to the
// subscription store idempotently.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureFormat selects how a provider transmits its HMAC digest.
type SignatureFormat int

const (
	// FormatPrefixed is "sha256=<hex>"; the scheme tag is case-insensitive.
	FormatPrefixed SignatureFormat = iota
	// FormatBareHex is the hex digest alone.
	FormatBareHex
)

var (
	// ErrSignatureMissing is returned when a secret is configured but the
	// delivery carries no signature header.
	ErrSignatureMissing = errors.New("webhook: signature header missing")
	// ErrSignatureInvalid is returned when the signature does not match the body.
	ErrSignatureInvalid = errors.New("webhook: signature mismatch")
	// ErrSecretRequired is returned by provider constructors when no signing
	// secret is configured and unverified mode was not requested.
	ErrSecretRequired = errors.New("webhook: signing secret required")
)

// VerifySignature reports whether provided is the HMAC-SHA256 of body under
// secret. The comparison is constant-time over the decoded digests. An empty
// signature or secret never verifies.
func VerifySignature(body []byte, provided, secret string, format SignatureFormat) bool {
	if provided == "" || secret == "" {
		return false
	}

	sig := strings.TrimSpace(provided)
	if format == FormatPrefixed {
		const scheme = "sha256="
		if len(sig) < len(scheme) || !strings.EqualFold(sig[:len(scheme)], scheme) {
			return false
		}
		sig = sig[len(scheme):]
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the hex HMAC-SHA256 of body, in the given format. Tests and
// local tooling use it to produce deliveries.
func Sign(body []byte, secret string, format SignatureFormat) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))
	if format == FormatPrefixed {
		return "sha256=" + digest
	}
	return digest
}
