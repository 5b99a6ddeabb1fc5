package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func TestRecoverer(t *testing.T) {
	srv := newTestServer(t)
	h := RequestIDMiddleware(srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom \"quoted\"")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
}

func TestRequestLogger_RedactsSignatureHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger, defaultRedactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/btcpay", nil)
	req.Header.Set("BTCPay-Sig", "sha256=deadbeef")
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("User-Agent", "btcpay")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, "secret-token")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, `"status":400`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, "btcpay")
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	t.Run("listed origin", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"https://members.example"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://members.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://members.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("unlisted origin", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"https://members.example"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard preflight", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodOptions, "/v1/checkout/whop", nil)
		req.Header.Set("Origin", "https://any.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestEscapeJSON(t *testing.T) {
	in := "a\"b\\c\nd"
	out := escapeJSON(in)
	var decoded string
	require.NoError(t, json.Unmarshal([]byte(`"`+out+`"`), &decoded))
	assert.Equal(t, in, decoded)
	assert.False(t, strings.Contains(out, "\n"))
}
