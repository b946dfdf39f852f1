package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/aqi-watch/internal/circuitbreaker"
)

const latestBody = `{"results":[
 {"location":"Anand Vihar","measurements":[
   {"parameter":"pm25","value":120,"lastUpdated":"2025-11-03T08:00:00Z","unit":"µg/m³"},
   {"parameter":"PM10","value":210,"lastUpdated":"2025-11-03T08:00:00Z"}]},
 {"location":"ITO","measurements":[
   {"parameter":"pm25","value":100,"lastUpdated":"2025-11-03T08:15:00Z"}]}]}`

func newTestOpenAQ(t *testing.T, url string, retry RetryPolicy) *OpenAQClient {
	t.Helper()
	c, err := NewOpenAQClient(OpenAQOptions{APIURL: url, Timeout: 2 * time.Second, Retry: retry})
	if err != nil {
		t.Fatalf("NewOpenAQClient() error = %v", err)
	}
	return c
}

func TestNewOpenAQClient_RequiresURL(t *testing.T) {
	if _, err := NewOpenAQClient(OpenAQOptions{}); err == nil {
		t.Fatal("NewOpenAQClient() expected error for empty URL")
	}
}

func TestOpenAQClient_FetchLatest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v2/latest" {
			t.Errorf("path = %s, want /v2/latest", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("city") != "Delhi" || q.Get("country") != "IN" || q.Get("limit") != "100" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("X-API-Key"); got != "" {
			t.Errorf("X-API-Key = %q, want empty when unconfigured", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(latestBody))
	}))
	defer server.Close()

	c := newTestOpenAQ(t, server.URL+"/v2/", NoRetry)
	got, err := c.FetchLatest(context.Background(), "Delhi")
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if len(got.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(got.Results))
	}
	m := got.Results[0].Measurements[1]
	if m.Parameter != "PM10" || m.Value != 210 {
		t.Errorf("measurement = %+v", m)
	}
}

func TestOpenAQClient_FetchLatest_SendsAPIKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	c, err := NewOpenAQClient(OpenAQOptions{APIURL: server.URL, APIKey: "secret-key"})
	if err != nil {
		t.Fatalf("NewOpenAQClient() error = %v", err)
	}
	if _, err := c.FetchLatest(context.Background(), "Pune"); err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if gotKey != "secret-key" {
		t.Errorf("X-API-Key = %q, want secret-key", gotKey)
	}
}

func TestOpenAQClient_FetchLatest_ErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		retryable bool
	}{
		{"429 rate limited", http.StatusTooManyRequests, "", ErrRateLimited, true},
		{"500 server error", http.StatusInternalServerError, "", ErrUpstreamFailure, true},
		{"404 not found", http.StatusNotFound, "", ErrUpstreamFailure, true},
		{"invalid json", http.StatusOK, "{not json", ErrMalformedResponse, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestOpenAQ(t, server.URL, NoRetry)
			_, err := c.FetchLatest(context.Background(), "Delhi")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchLatest() error = %v, want %v", err, tt.wantErr)
			}
			if got := isRetryable(err); got != tt.retryable {
				t.Errorf("isRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestOpenAQClient_DefaultMakesSingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestOpenAQ(t, server.URL, RetryPolicy{})
	if _, err := c.FetchLatest(context.Background(), "Delhi"); err == nil {
		t.Fatal("FetchLatest() expected error")
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestOpenAQClient_RetryLogic(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(latestBody))
	}))
	defer server.Close()

	c := newTestOpenAQ(t, server.URL, RetryPolicy{Attempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond})
	got, err := c.FetchLatest(context.Background(), "Delhi")
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
	if len(got.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2", len(got.Results))
	}
}

func TestOpenAQClient_NoRetryOnMalformed(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("<html>"))
	}))
	defer server.Close()

	c := newTestOpenAQ(t, server.URL, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})
	if _, err := c.FetchLatest(context.Background(), "Delhi"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("FetchLatest() error = %v, want ErrMalformedResponse", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestOpenAQClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer server.Close()

	c, err := NewOpenAQClient(OpenAQOptions{APIURL: server.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewOpenAQClient() error = %v", err)
	}
	_, err = c.FetchLatest(context.Background(), "Delhi")
	if err == nil {
		t.Fatal("FetchLatest() expected timeout error")
	}
	if cat := CategorizeError(err); cat != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout (err = %v)", cat, err)
	}
}

func TestOpenAQClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestOpenAQ(t, server.URL, NoRetry)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchLatest(ctx, "Delhi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FetchLatest() error = %v, want context.Canceled", err)
	}
}

func TestOpenAQClient_CorrelationID(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	c := newTestOpenAQ(t, server.URL, NoRetry)
	ctx := context.WithValue(context.Background(), "correlation_id", "corr-123")
	if _, err := c.FetchLatest(ctx, "Delhi"); err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if captured != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", captured)
	}
}

func TestOpenAQClient_BreakerFailsFast(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour, Component: "openaq"})
	c, err := NewOpenAQClient(OpenAQOptions{APIURL: server.URL, Breaker: cb})
	if err != nil {
		t.Fatalf("NewOpenAQClient() error = %v", err)
	}

	ctx := context.Background()
	_, _ = c.FetchLatest(ctx, "Delhi")
	_, _ = c.FetchLatest(ctx, "Delhi")
	_, err = c.FetchLatest(ctx, "Delhi")
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("third call error = %v, want circuitbreaker.ErrOpen", err)
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("upstream attempts = %d, want 2", n)
	}
}

func TestCalculateBackoff_Bounded(t *testing.T) {
	u := newUpstream("openaq", time.Second, RetryPolicy{Attempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}, nil)
	for attempt := 1; attempt <= 5; attempt++ {
		d := u.calculateBackoff(attempt)
		if d < 100*time.Millisecond || d > 330*time.Millisecond {
			t.Errorf("calculateBackoff(%d) = %v, out of bounds", attempt, d)
		}
	}
}
