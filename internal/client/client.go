// Package client talks to the upstream measurement and place-lookup APIs.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/aqi-watch/internal/observability"
)

var (
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrPlaceNotFound     = errors.New("place not found")
)

// Breaker guards calls to an upstream. *circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Call(ctx context.Context, fn func() error) error
}

// RetryPolicy controls the retry loop shared by the upstream clients.
// Attempts <= 1 disables retries.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NoRetry makes exactly one attempt.
var NoRetry = RetryPolicy{Attempts: 1}

// upstream carries what the API clients have in common: the HTTP client,
// per-request timeout, retry policy and optional breaker.
type upstream struct {
	name    string
	client  *http.Client
	timeout time.Duration
	retry   RetryPolicy
	breaker Breaker
}

func newUpstream(name string, timeout time.Duration, retry RetryPolicy, breaker Breaker) upstream {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return upstream{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		retry:   retry,
		breaker: breaker,
	}
}

// do runs call with retries and the breaker. Errors are wrapped with the
// upstream name and categorized for metrics.
func (u *upstream) do(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < u.retry.Attempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(u.name).Inc()
			delay := u.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := u.callOnce(ctx, call)
		if err == nil {
			return nil
		}

		lastErr = err
		observability.UpstreamErrorsTotal.WithLabelValues(u.name, string(CategorizeError(err))).Inc()
		if !isRetryable(err) {
			return err
		}
	}

	if u.retry.Attempts > 1 {
		return fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return lastErr
}

func (u *upstream) callOnce(ctx context.Context, call func(ctx context.Context) error) error {
	if u.breaker == nil {
		return call(ctx)
	}
	return u.breaker.Call(ctx, func() error { return call(ctx) })
}

// send executes req under the per-request timeout and records call metrics.
// The caller closes the response body.
func (u *upstream) send(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if corrID := extractCorrelationID(req.Context()); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.name, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(u.name, "error").Observe(duration)
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%s request timeout: %w", u.name, err)
		}
		return nil, fmt.Errorf("%s http request failed: %w", u.name, err)
	}

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(u.name, status).Inc()
	observability.UpstreamDuration.WithLabelValues(u.name, status).Observe(duration)
	return resp, nil
}

func (u *upstream) calculateBackoff(attempt int) time.Duration {
	delay := float64(u.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if u.retry.MaxDelay > 0 && delay > float64(u.retry.MaxDelay) {
		delay = float64(u.retry.MaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

// handleErrorResponse maps non-2xx statuses to sentinel errors.
func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
