package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func noopSleep(context.Context, time.Duration) error { return nil }

func newTestBase(policy RetryPolicy) *BaseClient {
	return NewBaseClient(&http.Client{Timeout: 2 * time.Second}, "test", policy, WithSleepFunc(noopSleep))
}

func TestBaseClient_Success(t *testing.T) {
	var ua, reqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		reqID = r.Header.Get("X-Request-Id")
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	ctx := types.WithRequestID(context.Background(), "rid-1")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := newTestBase(DefaultRetryPolicy()).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, defaultUserAgent, ua)
	assert.Equal(t, "rid-1", reqID)
}

func TestBaseClient_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"a":1}`))
	resp, err := newTestBase(RetryPolicy{MaxRetries: 2}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBaseClient_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := newTestBase(RetryPolicy{MaxRetries: 1}).Do(req)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBaseClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := newTestBase(RetryPolicy{MaxRetries: 1}).Do(req)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

func TestBaseClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := newTestBase(DefaultRetryPolicy()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBaseClient_TimeoutIsUpstreamError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	bc := NewBaseClient(&http.Client{Timeout: 20 * time.Millisecond}, "t", RetryPolicy{MaxRetries: 1}, WithSleepFunc(noopSleep))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := bc.Do(req)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
}

func TestBaseClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	bc := newTestBase(RetryPolicy{MaxRetries: 0})
	for i := 0; i < 6; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		_, _ = bc.Do(req)
	}
	before := calls.Load()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := bc.Do(req)
	require.Error(t, err)
	assert.Equal(t, before, calls.Load(), "open breaker must short-circuit")
}

func TestBaseClient_ContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	bc := NewBaseClient(nil, "t", RetryPolicy{MaxRetries: 3, MinWait: time.Hour, MaxWait: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	start := time.Now()
	_, err := bc.Do(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestComputeBackoff(t *testing.T) {
	bc := newTestBase(RetryPolicy{MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	assert.Equal(t, time.Second, bc.computeBackoff(0, "30"))
	assert.Equal(t, 100*time.Millisecond, bc.computeBackoff(0, ""))
	for i := 0; i < 20; i++ {
		d := bc.computeBackoff(5, "")
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, "99.00", FormatMinorUnits(9900))
	assert.Equal(t, "0.05", FormatMinorUnits(5))
	assert.Equal(t, "-1.50", FormatMinorUnits(-150))

	for in, want := range map[string]int64{"99.00": 9900, "99": 9900, "0.5": 50, "12.340": 1234, "-1.5": -150} {
		got, err := ParseMinorUnits(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMinorUnits("1.005")
	assert.Error(t, err)
	_, err = ParseMinorUnits("abc")
	assert.Error(t, err)
}
