package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"InvoicePaymentSettled","invoiceId":"inv_1"}`)
	prefixed := Sign(body, testSecret, FormatPrefixed)
	bare := Sign(body, testSecret, FormatBareHex)

	tests := []struct {
		name     string
		body     []byte
		sig      string
		secret   string
		format   SignatureFormat
		expected bool
	}{
		{"prefixed ok", body, prefixed, testSecret, FormatPrefixed, true},
		{"prefixed uppercase scheme", body, "SHA256=" + strings.TrimPrefix(prefixed, "sha256="), testSecret, FormatPrefixed, true},
		{"prefixed missing scheme", body, bare, testSecret, FormatPrefixed, false},
		{"bare ok", body, bare, testSecret, FormatBareHex, true},
		{"bare with scheme", body, prefixed, testSecret, FormatBareHex, false},
		{"tampered body", append([]byte(nil), append(body, ' ')...), prefixed, testSecret, FormatPrefixed, false},
		{"wrong secret", body, prefixed, "other", FormatPrefixed, false},
		{"empty signature", body, "", testSecret, FormatPrefixed, false},
		{"empty secret", body, prefixed, "", FormatPrefixed, false},
		{"not hex", body, "sha256=zz", testSecret, FormatPrefixed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, VerifySignature(tt.body, tt.sig, tt.secret, tt.format))
		})
	}
}

func TestNewProviders_SecretRequired(t *testing.T) {
	cfg := ProviderConfig{Logger: discardLogger()}

	_, err := NewBTCPayProvider(cfg)
	assert.ErrorIs(t, err, ErrSecretRequired)
	_, err = NewWhopProvider(cfg)
	assert.ErrorIs(t, err, ErrSecretRequired)
	_, err = NewStripeProvider(cfg)
	assert.ErrorIs(t, err, ErrSecretRequired)
}

func TestUnverifiedMode_WarnsOnConstructionAndEveryRequest(t *testing.T) {
	h := &captureHandler{}
	p, err := NewWhopProvider(ProviderConfig{AllowUnverified: true, Logger: slog.New(h)})
	require.NoError(t, err)
	assert.True(t, p.Unverified())

	require.NoError(t, p.Verify([]byte(`{}`), ""))
	require.NoError(t, p.Verify([]byte(`{}`), "garbage"))

	assert.Equal(t, 3, h.count(slog.LevelWarn, "webhook signature verification disabled"))
}

func TestHMACProviders_Verify(t *testing.T) {
	body := []byte(`{"type":"payment_succeeded","data":{"id":"pay_1"}}`)

	whop, err := NewWhopProvider(ProviderConfig{Secret: testSecret, Logger: discardLogger()})
	require.NoError(t, err)
	btc, err := NewBTCPayProvider(ProviderConfig{Secret: testSecret, Logger: discardLogger()})
	require.NoError(t, err)

	assert.NoError(t, whop.Verify(body, Sign(body, testSecret, FormatBareHex)))
	assert.ErrorIs(t, whop.Verify(body, ""), ErrSignatureMissing)
	assert.ErrorIs(t, whop.Verify([]byte(`{"type":"payment_succeeded","data":{"id":"pay_2"}}`),
		Sign(body, testSecret, FormatBareHex)), ErrSignatureInvalid)

	assert.NoError(t, btc.Verify(body, Sign(body, testSecret, FormatPrefixed)))
	assert.ErrorIs(t, btc.Verify(body, ""), ErrSignatureMissing)
}

// stripeSignature builds a Stripe-Signature header value.
func stripeSignature(body []byte, secret string, ts time.Time) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", stamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeProvider_Verify(t *testing.T) {
	p, err := NewStripeProvider(ProviderConfig{Secret: testSecret, Logger: discardLogger()})
	require.NoError(t, err)

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","api_version":"2025-03-31.basil"}`)

	assert.NoError(t, p.Verify(body, stripeSignature(body, testSecret, time.Now())))
	assert.ErrorIs(t, p.Verify(body, ""), ErrSignatureMissing)

	err = p.Verify(body, stripeSignature(body, "wrong", time.Now()))
	assert.True(t, errors.Is(err, ErrSignatureInvalid))

	err = p.Verify(body, stripeSignature(body, testSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrSignatureInvalid, "stale timestamps are rejected")
}
