package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Usable verifies that label dimensions match their use in the
// client, http, service, batch and report packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/cities/{city}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/cities/{city}").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("openaq", "success").Inc()
	UpstreamDuration.WithLabelValues("openaq", "success").Observe(0.1)
	UpstreamRetriesTotal.WithLabelValues("openaq").Inc()
	UpstreamErrorsTotal.WithLabelValues("nominatim", "timeout").Inc()
	CacheHitsTotal.WithLabelValues("memory").Inc()
	CacheMissesTotal.WithLabelValues("memcached").Inc()
	BatchCitiesTotal.Add(5)
	BatchDuration.Observe(1.2)
	RefreshRunsTotal.WithLabelValues("success").Inc()
	ReportsTotal.WithLabelValues("accepted").Inc()
	PublishedEventsTotal.WithLabelValues("aqi.readings", "success").Inc()
	CircuitBreakerState.WithLabelValues("openaq").Set(0)
}

func TestRecordLookup_TrackedAndOther(t *testing.T) {
	SetTrackedCities([]string{"Delhi", "Mumbai"})
	defer SetTrackedCities(nil)

	before := testutil.ToFloat64(LookupsByCityTotal.WithLabelValues("delhi"))
	otherBefore := testutil.ToFloat64(LookupsByCityTotal.WithLabelValues("other"))
	fallbackBefore := testutil.ToFloat64(MeasurementLookupsTotal.WithLabelValues("fallback"))

	RecordLookup(" Delhi ", "live")
	RecordLookup("Atlantis", "fallback")

	if got := testutil.ToFloat64(LookupsByCityTotal.WithLabelValues("delhi")) - before; got != 1 {
		t.Errorf("delhi lookups delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(LookupsByCityTotal.WithLabelValues("other")) - otherBefore; got != 1 {
		t.Errorf("other lookups delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(MeasurementLookupsTotal.WithLabelValues("fallback")) - fallbackBefore; got != 1 {
		t.Errorf("fallback lookups delta = %v, want 1", got)
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format, including the traffic gauges.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	RegisterTrafficGauges(time.Minute)

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "fallbackRatioInWindow", "lookupsInWindow"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
