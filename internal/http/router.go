package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aqi-watch/internal/observability"
)

// NewRouter mounts health, metrics and the /api subrouter. Only /api is rate
// limited and bounded by requestTimeout.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/categories", h.GetCategories).Methods(http.MethodGet)
	api.HandleFunc("/cities", h.GetCities).Methods(http.MethodGet)
	api.HandleFunc("/cities/top", h.GetTopCities).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}", h.GetCity).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}/trend", h.GetCityTrend).Methods(http.MethodGet)
	api.HandleFunc("/states/{state}", h.GetState).Methods(http.MethodGet)
	api.HandleFunc("/places", h.GetPlaces).Methods(http.MethodGet)
	api.HandleFunc("/reports", h.PostReport).Methods(http.MethodPost)
	api.HandleFunc("/reports", h.GetReports).Methods(http.MethodGet)
	api.HandleFunc("/cache", h.GetCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache", h.DeleteCache).Methods(http.MethodDelete)
	return router
}
