package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/aqi"
	"github.com/kjstillabower/aqi-watch/internal/client"
	"github.com/kjstillabower/aqi-watch/internal/dashboard"
	"github.com/kjstillabower/aqi-watch/internal/fallback"
	"github.com/kjstillabower/aqi-watch/internal/lifecycle"
	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/report"
	"github.com/kjstillabower/aqi-watch/internal/service"
	"github.com/kjstillabower/aqi-watch/internal/traffic"
	"github.com/kjstillabower/aqi-watch/internal/validation"
)

const (
	maxCityLen       = 100
	minPlaceQueryLen = 3
	maxPlaceQueryLen = 200
	defaultTrendDays = 7
	maxTrendDays     = 30
	defaultReportLim = 20
	maxReportLim     = 100
	maxReportBody    = 64 << 10
	maxTopLimit      = 50
)

// MeasurementService is the cached single-city lookup.
type MeasurementService interface {
	GetOrFetch(ctx context.Context, city string) models.Result
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (service.Stats, error)
}

// Snapshotter supplies the latest all-cities results.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]models.CityResult, time.Time, error)
}

// TrendSource produces simulated daily history.
type TrendSource interface {
	Trend(city string, days int) []fallback.TrendPoint
}

// ReportService accepts and lists citizen reports.
type ReportService interface {
	Submit(ctx context.Context, sub report.Submission) (models.Report, error)
	Recent(ctx context.Context, limit int) ([]models.Report, error)
}

// Deps are the collaborators behind the API routes.
type Deps struct {
	Measurements MeasurementService
	Snapshots    Snapshotter
	Trends       TrendSource
	Places       client.PlaceSearcher
	Reports      ReportService
	Cities       []models.City
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow      time.Duration
	DegradedFallbackPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// StorePing, when set, checks the report store.
	StorePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps             Deps
	citiesByName     map[string]models.City
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(deps Deps, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]models.City, len(deps.Cities))
	for _, c := range deps.Cities {
		byName[strings.ToLower(c.Name)] = c
	}
	return &Handler{
		deps:         deps,
		citiesByName: byName,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// cityView is the API shape of one city's reading.
type cityView struct {
	Name     string                   `json:"name"`
	State    string                   `json:"state,omitempty"`
	Lat      float64                  `json:"lat,omitempty"`
	Lon      float64                  `json:"lon,omitempty"`
	Record   models.MeasurementRecord `json:"record"`
	Source   models.Source            `json:"source"`
	Category aqi.Category             `json:"category"`
}

func newCityView(c models.City, r models.Result) cityView {
	return cityView{
		Name:     c.Name,
		State:    c.State,
		Lat:      c.Lat,
		Lon:      c.Lon,
		Record:   r.Record,
		Source:   r.Source,
		Category: aqi.Classify(r.Record.AQI),
	}
}

func cityViews(results []models.CityResult) []cityView {
	out := make([]cityView, len(results))
	for i, r := range results {
		out[i] = newCityView(r.City, r.Result)
	}
	return out
}

// GetCategories handles GET /api/categories.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": aqi.Categories(),
		"pollutants": aqi.Pollutants(),
	})
}

// GetCities handles GET /api/cities.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	results, at, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updatedAt": at.UTC().Format(time.RFC3339),
		"cities":    cityViews(results),
	})
}

// snapshot writes 503 and returns false when the first refresh has not
// finished within the request deadline.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) ([]models.CityResult, time.Time, bool) {
	results, at, err := h.deps.Snapshots.Snapshot(r.Context())
	if err != nil {
		requestLogger(r, h.logger).Warn("city snapshot unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "City readings are still loading")
		return nil, time.Time{}, false
	}
	return results, at, true
}

// GetTopCities handles GET /api/cities/top?limit=N.
func (h *Handler) GetTopCities(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", dashboard.DefaultTopLimit, 1, maxTopLimit)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be between 1 and 50")
		return
	}
	results, at, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updatedAt": at.UTC().Format(time.RFC3339),
		"cities":    cityViews(dashboard.Top(results, limit)),
	})
}

// GetCity handles GET /api/cities/{city}. Upstream failures never surface;
// the response carries a fallback record with source "fallback".
func (h *Handler) GetCity(w http.ResponseWriter, r *http.Request) {
	name, ok := h.cityParam(w, r)
	if !ok {
		return
	}
	result := h.deps.Measurements.GetOrFetch(r.Context(), name)
	if result.Err != nil {
		requestLogger(r, h.logger).Debug("served fallback", zap.String("city", name), zap.Error(result.Err))
	}
	writeJSON(w, http.StatusOK, newCityView(h.lookupCity(name), result))
}

// GetCityTrend handles GET /api/cities/{city}/trend?days=N.
func (h *Handler) GetCityTrend(w http.ResponseWriter, r *http.Request) {
	name, ok := h.cityParam(w, r)
	if !ok {
		return
	}
	days, ok := intParam(r, "days", defaultTrendDays, 1, maxTrendDays)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "days must be between 1 and 30")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"city":   h.lookupCity(name).Name,
		"days":   days,
		"points": h.deps.Trends.Trend(name, days),
	})
}

// GetState handles GET /api/states/{state}.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(mux.Vars(r)["state"])
	results, _, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	detail, err := dashboard.State(state, results)
	if errors.Is(err, dashboard.ErrUnknownState) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no monitored cities in state "+strconv.Quote(state))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetPlaces handles GET /api/places?q=.
func (h *Handler) GetPlaces(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if n := utf8.RuneCountInString(q); n < minPlaceQueryLen || n > maxPlaceQueryLen {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "q must be between 3 and 200 characters")
		return
	}
	place, err := h.deps.Places.Search(r.Context(), q)
	switch {
	case errors.Is(err, client.ErrPlaceNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Location not found")
	case err != nil:
		writeServiceError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, place)
	}
}

// PostReport handles POST /api/reports.
func (h *Handler) PostReport(w http.ResponseWriter, r *http.Request) {
	var sub report.Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REPORT", "request body must be a JSON report")
		return
	}

	rep, err := h.deps.Reports.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, report.ErrInvalid):
		writeErrorFields(w, r, http.StatusBadRequest, "INVALID_REPORT", "report failed validation", report.FieldErrors(err))
	case errors.Is(err, report.ErrPersistence):
		requestLogger(r, h.logger).Error("report not saved", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "PERSISTENCE_FAILED", "Unable to save report")
	case err != nil:
		requestLogger(r, h.logger).Error("report submission failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to submit report")
	default:
		writeJSON(w, http.StatusCreated, rep)
	}
}

// GetReports handles GET /api/reports?limit=N.
func (h *Handler) GetReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", defaultReportLim, 1, maxReportLim)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be between 1 and 100")
		return
	}
	reports, err := h.deps.Reports.Recent(r.Context(), limit)
	if err != nil {
		requestLogger(r, h.logger).Error("list reports failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "PERSISTENCE_FAILED", "Unable to load reports")
		return
	}
	if reports == nil {
		reports = []models.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// GetCacheStats handles GET /api/cache.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Measurements.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// DeleteCache handles DELETE /api/cache.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Measurements.Clear(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	requestLogger(r, h.logger).Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cityParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := validation.ValidateName(mux.Vars(r)["city"], 1, maxCityLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", "city "+err.Error())
		return "", false
	}
	return name, true
}

// lookupCity returns the configured city matching name, or a bare City.
func (h *Handler) lookupCity(name string) models.City {
	if c, ok := h.citiesByName[strings.ToLower(name)]; ok {
		return c
	}
	return models.City{Name: name}
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, key string, def, lo, hi int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"upstream": "healthy"}
	if result.status == "degraded" {
		checks["upstream"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = checkStatus(h.healthConfig.CachePing())
	}
	if h.healthConfig != nil && h.healthConfig.StorePing != nil {
		checks["reportStore"] = checkStatus(h.healthConfig.StorePing(r.Context()))
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "aqi-watch",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func checkStatus(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedFallbackPct > 0 {
		fallbacks, total := traffic.FallbackRate(h.healthConfig.DegradedWindow)
		if total > 0 && fallbacks*100 >= h.healthConfig.DegradedFallbackPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "fallback_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorFields(w, r, status, code, message, nil)
}

// writeErrorFields is writeError with per-field validation messages.
func writeErrorFields(w http.ResponseWriter, r *http.Request, status int, code, message string, fields map[string]string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	body := map[string]interface{}{
		"code":      code,
		"message":   message,
		"requestId": corrID,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

// writeServiceError writes a 503 for upstream or backend failures and logs
// the cause at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Upstream service unavailable")
	requestLogger(r, nil).Debug("upstream error", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
}
