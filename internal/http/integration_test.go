//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/refresh"
	"github.com/kjstillabower/aqi-watch/internal/testhelpers"
)

func setupIntegrationServer(t *testing.T, cities []models.City) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	cfg := testhelpers.IntegrationConfig(t)
	stack := testhelpers.SetupStack(t, cfg, logger)

	h := NewHandler(Deps{
		Measurements: stack.Measurements,
		Snapshots:    refresh.New(stack.Batch, cities, refresh.Options{Logger: logger}),
		Trends:       stack.Generator,
		Places:       stack.Places,
		Reports:      testhelpers.SetupReports(t, logger),
		Cities:       cities,
	}, &HealthConfig{CachePing: stack.CachePing}, logger)
	return NewRouter(h, logger, nil, cfg.RequestTimeout)
}

// TestIntegration_GetCity_CachedOnSecondCall verifies a real lookup is
// served from cache within the freshness window, whatever its source.
func TestIntegration_GetCity_CachedOnSecondCall(t *testing.T) {
	server := setupIntegrationServer(t, models.DefaultCities[:2])

	first := httptest.NewRecorder()
	server.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/cities/Delhi", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
	}
	var view cityView
	if err := json.NewDecoder(first.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Record.AQI < 0 {
		t.Errorf("AQI = %d, want non-negative", view.Record.AQI)
	}
	if view.Source == models.SourceFallback {
		t.Skip("upstream unavailable; served fallback")
	}

	second := httptest.NewRecorder()
	server.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/cities/Delhi", nil))
	if !strings.Contains(second.Body.String(), `"source":"cached"`) {
		t.Errorf("second lookup body = %s, want cached source", second.Body.String())
	}
}

// TestIntegration_GetCities_NoGaps verifies every configured city appears
// in the snapshot even when some lookups fall back.
func TestIntegration_GetCities_NoGaps(t *testing.T) {
	cities := models.DefaultCities[:3]
	server := setupIntegrationServer(t, cities)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cities", nil))
	var body struct {
		Cities []cityView `json:"cities"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Cities) != len(cities) {
		t.Fatalf("got %d cities, want %d", len(body.Cities), len(cities))
	}
	for i, c := range cities {
		if body.Cities[i].Name != c.Name {
			t.Errorf("cities[%d] = %q, want %q", i, body.Cities[i].Name, c.Name)
		}
	}
}

// TestIntegration_Places_Geocodes verifies the live geocoder resolves a
// well-known place.
func TestIntegration_Places_Geocodes(t *testing.T) {
	server := setupIntegrationServer(t, models.DefaultCities[:1])

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/places?q=Connaught+Place", nil))
	if w.Code == http.StatusServiceUnavailable {
		t.Skip("geocoder unavailable")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var place models.Place
	if err := json.NewDecoder(w.Body).Decode(&place); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if place.Lat < 6 || place.Lat > 37 {
		t.Errorf("lat = %v, want within India", place.Lat)
	}
}
