package types

import (
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants.
// Handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON      ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidTier      ErrorCode = "validation_invalid_tier"
	ErrCodeValidationUnknownProvider  ErrorCode = "validation_unknown_provider"
	ErrCodeValidationWebhookPayload   ErrorCode = "validation_webhook_payload"
	ErrCodeValidationProviderRejected ErrorCode = "validation_provider_rejected"

	// Webhook authenticity (400, never 401: providers do not re-authenticate)
	ErrCodeWebhookSignatureInvalid ErrorCode = "webhook_signature_invalid"

	// Auth (401)
	ErrCodeAuthTokenMissing   ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid   ErrorCode = "auth_token_invalid"
	ErrCodeAuthSessionExpired ErrorCode = "auth_session_expired"

	// Not Found (404)
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundInvoice      ErrorCode = "not_found_invoice"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB                  ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected          ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamProviderUnavailable ErrorCode = "upstream_provider_unavailable"
	ErrCodeUpstreamUnavailable         ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited         ErrorCode = "upstream_rate_limited"
)

// statusByPrefix maps an error code family to its HTTP status. The first
// matching prefix wins.
var statusByPrefix = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{string(ErrCodeWebhookSignatureInvalid), http.StatusBadRequest},
	{"auth_", http.StatusUnauthorized},
	{"not_found_", http.StatusNotFound},
	{"upstream_", http.StatusBadGateway},
	{"internal_", http.StatusInternalServerError},
}

// HTTPStatus maps an ErrorCode to an HTTP status. Unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	for _, m := range statusByPrefix {
		if strings.HasPrefix(string(c), m.prefix) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// AppError is the error type surfaced to HTTP callers. Code selects the
// status, Message is safe to show, and Err stays server-side.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status for e.Code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of e with details merged over the existing ones.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	maps.Copy(cp.Details, e.Details)
	maps.Copy(cp.Details, details)
	return &cp
}

// NewAppError builds an AppError. err may be nil.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
