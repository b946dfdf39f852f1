package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aqi-watch/internal/observability"
	"github.com/kjstillabower/aqi-watch/internal/traffic"
)

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := env.do(t, http.MethodGet, "/api/categories", "")
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/cities/%3C%3E", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	var body errorBody
	decode(t, w, &body)
	if body.Error.RequestID != "client-provided-id" {
		t.Errorf("requestId = %q, want client-provided-id", body.Error.RequestID)
	}
}

func TestMiddleware_CorrelationIDReplacedWhenUnfit(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for _, id := range []string{"has space", strings.Repeat("x", 65), "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
		req.Header.Set("X-Correlation-ID", id)
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, req)

		got := w.Header().Get("X-Correlation-ID")
		if got == id || got == "" {
			t.Errorf("X-Correlation-ID for %q = %q, want a generated id", id, got)
		}
	}
}

func TestMiddleware_CorrelationLoggerInContext(t *testing.T) {
	var gotLogger *zap.Logger
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		gotLogger, _ = r.Context().Value("logger").(*zap.Logger)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if gotLogger == nil {
		t.Fatal("logger not placed in request context")
	}
}

func TestMiddleware_MetricsUseRouteTemplate(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/cities/{city}", "2xx")
	before := testutil.ToFloat64(counter)

	env.do(t, http.MethodGet, "/api/cities/Delhi", "")
	env.do(t, http.MethodGet, "/api/cities/Mumbai", "")

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("requests counted under template = %v, want 2", got)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after requests finished, want 0", InFlightCount())
	}
}

func TestMiddleware_MetricsRecordsClientErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/cities/{city}/trend", "4xx")
	before := testutil.ToFloat64(counter)

	env.do(t, http.MethodGet, "/api/cities/Delhi/trend?days=0", "")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("4xx count delta = %v, want 1", got)
	}
}

func TestGetRoute_Unmatched(t *testing.T) {
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nope", nil)); got != "unmatched" {
		t.Errorf("getRoute() = %q, want unmatched", got)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	router := mux.NewRouter()
	router.Use(TimeoutMiddleware(50 * time.Millisecond))
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
		<-r.Context().Done()
		if r.Context().Err() != context.DeadlineExceeded {
			t.Errorf("ctx.Err() = %v, want DeadlineExceeded", r.Context().Err())
		}
	})

	start := time.Now()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))

	if !ok {
		t.Fatal("request context has no deadline")
	}
	if d := deadline.Sub(start); d <= 0 || d > time.Second {
		t.Errorf("deadline %v after start, want about 50ms", d)
	}
}

func TestRateLimitMiddleware_DeniesAndRecords(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	env := newTestEnv(t, nil, nil)
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	server := NewRouter(env.handler, zap.NewNop(), limiter, time.Second)
	deniedBefore := testutil.ToFloat64(observability.RateLimitDeniedTotal)

	first := httptest.NewRecorder()
	server.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	server.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/categories", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(second.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := second.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if body.Error.Code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", body.Error.Code)
	}
	if traffic.DenialCount(time.Minute) != 1 {
		t.Errorf("DenialCount = %d, want 1", traffic.DenialCount(time.Minute))
	}
	if got := testutil.ToFloat64(observability.RateLimitDeniedTotal) - deniedBefore; got != 1 {
		t.Errorf("RateLimitDeniedTotal delta = %v, want 1", got)
	}

	// Health sits outside the limited subrouter.
	health := httptest.NewRecorder()
	server.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code == http.StatusTooManyRequests {
		t.Error("/health must not be rate limited")
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	h := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil limiter should pass requests through")
	}
}
