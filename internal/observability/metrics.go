package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/aqi-watch/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate by upstream (openaq, nominatim, webhook) and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p99 close to the configured timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per upstream. Stays at zero with the default single attempt.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Upstream errors by stable category (see client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Cache hits and misses by backend.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Measurement lookups by result source (live, cached, fallback).
	// Watch for: fallback share rising = upstream degraded.
	MeasurementLookupsTotal *prometheus.CounterVec

	// Per-city lookup count (allow-list; others go to "other").
	LookupsByCityTotal *prometheus.CounterVec

	// Batch fan-out size and duration.
	BatchCitiesTotal prometheus.Counter
	BatchDuration    prometheus.Histogram

	// Scheduled refresh runs by status.
	RefreshRunsTotal *prometheus.CounterVec

	// Citizen reports by outcome (accepted, invalid, persistence_failed).
	ReportsTotal *prometheus.CounterVec

	// Events published by topic and status.
	PublishedEventsTotal *prometheus.CounterVec

	// Circuit breaker state per component (0=closed, 1=open, 2=half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of outbound calls to upstream APIs",
		},
		[]string{"upstream", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"upstream", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
		[]string{"upstream"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Upstream errors by category",
		},
		[]string{"upstream", "category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of fresh cache hits",
		},
		[]string{"backend"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses, including stale entries",
		},
		[]string{"backend"},
	)
	MeasurementLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "measurementLookupsTotal",
			Help: "Total number of measurement lookups by result source",
		},
		[]string{"source"},
	)
	LookupsByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookupsByCityTotal",
			Help: "Measurement lookups by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	BatchCitiesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchCitiesTotal",
			Help: "Total number of cities processed by batch fetches",
		},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchDurationSeconds",
			Help:    "Duration of a full multi-city fetch, pauses included",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
	)
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshRunsTotal",
			Help: "Scheduled refresh runs by status",
		},
		[]string{"status"},
	)
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportsTotal",
			Help: "Citizen reports by outcome",
		},
		[]string{"outcome"},
	)
	PublishedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publishedEventsTotal",
			Help: "Events written to the message broker by topic and status",
		},
		[]string{"topic", "status"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CacheHitsTotal, CacheMissesTotal,
		MeasurementLookupsTotal, LookupsByCityTotal,
		BatchCitiesTotal, BatchDuration, RefreshRunsTotal,
		ReportsTotal, PublishedEventsTotal,
		CircuitBreakerState,
		RateLimitDeniedTotal,
	)
}

// RegisterTrafficGauges registers sliding-window gauges backed by the traffic
// tracker. Call from main after config load with the health window.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "lookupsInWindow",
					Help: "Measurement lookups and rate-limit denials in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "fallbackRatioInWindow",
					Help: "Share of lookups answered with simulated data in the sliding window",
				},
				func() float64 {
					fallbacks, total := traffic.FallbackRate(window)
					if total == 0 {
						return 0
					}
					return float64(fallbacks) / float64(total)
				},
			),
		)
	})
}

// SetTrackedCities sets the allow-list for per-city metrics. Other cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// RecordLookup records a measurement lookup for city answered from source.
func RecordLookup(city, source string) {
	MeasurementLookupsTotal.WithLabelValues(source).Inc()
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c]
	trackedCitiesMu.RUnlock()
	if ok {
		LookupsByCityTotal.WithLabelValues(c).Inc()
	} else {
		LookupsByCityTotal.WithLabelValues("other").Inc()
	}
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
