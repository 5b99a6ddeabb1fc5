// Package external is the boundary between memberpay and the payment
// providers' HTTP APIs. Every outbound call goes through BaseClient, which
// applies circuit breaking, bounded retries with backoff, and AppError
// mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"memberpay/internal/types"
)

// defaultUserAgent is sent on every outbound provider request.
const defaultUserAgent = "memberpay/1.0"

// RetryPolicy configures BaseClient retries.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy suits interactive invoice calls: two retries, short waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    2 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker and retry loop.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(context.Context, time.Duration) error
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces the between-retry wait. Tests use it to skip delays.
func WithSleepFunc(fn func(context.Context, time.Duration) error) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithBreaker shares or replaces the circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// NewBreaker returns the default breaker: it opens after more than five
// consecutive failures and half-opens after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

// NewBaseClient builds a BaseClient. breakerName labels the default breaker.
func NewBaseClient(httpClient *http.Client, breakerName string, retryPolicy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	bc := &BaseClient{
		client:      httpClient,
		breaker:     NewBreaker(breakerName),
		retryPolicy: retryPolicy,
		userAgent:   defaultUserAgent,
		sleepFn:     sleepCtx,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes req, retrying 429, 5xx and transport errors (timeouts
// included). Other responses, 4xx among them, are returned as-is and the
// caller closes the body.
//
// Exhausted retries and an open breaker yield an upstream_* AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if reqID := types.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	req.Header.Set("User-Agent", c.userAgent)

	// Snapshot the body so every attempt can replay it.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastStatus int
		lastErr    error
	)

	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastStatus = 0
		var retryAfter string
		if resp != nil {
			lastStatus = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			_ = resp.Body.Close()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		if attempt < attempts-1 {
			if sleepErr := c.sleepFn(ctx, c.computeBackoff(attempt, retryAfter)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	return nil, mapError(lastStatus, lastErr)
}

// computeBackoff honors a Retry-After header (seconds or HTTP-date), else
// uses exponential backoff with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, retryAfter string) time.Duration {
	p := c.retryPolicy
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			return min(time.Duration(seconds)*time.Second, p.MaxWait)
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			wait := time.Until(t)
			if wait <= 0 {
				return p.MinWait
			}
			return min(wait, p.MaxWait)
		}
	}

	ceiling := math.Min(float64(p.MinWait)*math.Pow(2, float64(attempt)), float64(p.MaxWait))
	if ceiling <= float64(p.MinWait) {
		return p.MinWait
	}
	return time.Duration(float64(p.MinWait) + rand.Float64()*(ceiling-float64(p.MinWait)))
}

func mapError(status int, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
