// Package app assembles the measurement pipeline from configuration. The
// service binary and aqictl share it.
package app

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/batch"
	"github.com/kjstillabower/aqi-watch/internal/cache"
	"github.com/kjstillabower/aqi-watch/internal/circuitbreaker"
	"github.com/kjstillabower/aqi-watch/internal/client"
	"github.com/kjstillabower/aqi-watch/internal/config"
	"github.com/kjstillabower/aqi-watch/internal/fallback"
	"github.com/kjstillabower/aqi-watch/internal/lifecycle"
	"github.com/kjstillabower/aqi-watch/internal/normalize"
	"github.com/kjstillabower/aqi-watch/internal/observability"
	"github.com/kjstillabower/aqi-watch/internal/service"
)

// Stack is the wired measurement pipeline.
type Stack struct {
	Clock        clockwork.Clock
	Generator    *fallback.Generator
	Cache        cache.Cache
	Measurements *service.MeasurementService
	Batch        *batch.Orchestrator
	Places       *client.NominatimClient
	// CachePing is set when the cache backend is remote.
	CachePing func() error

	closers lifecycle.Closers
}

// NewStack builds clients, cache, service and orchestrator from cfg.
func NewStack(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (*Stack, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stack{Clock: clock}

	retry := client.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	openaq, err := client.NewOpenAQClient(client.OpenAQOptions{
		APIURL:  cfg.OpenAQAPIURL,
		APIKey:  cfg.OpenAQAPIKey,
		Timeout: cfg.OpenAQTimeout,
		Retry:   retry,
		Breaker: newBreaker(cfg, "openaq", clock, logger),
	})
	if err != nil {
		return nil, err
	}
	s.Places, err = client.NewNominatimClient(client.NominatimOptions{
		APIURL:    cfg.GeocoderURL,
		UserAgent: cfg.GeocoderUserAgent,
		Timeout:   cfg.GeocoderTimeout,
		Retry:     client.NoRetry,
		Breaker:   newBreaker(cfg, "nominatim", clock, logger),
	})
	if err != nil {
		return nil, err
	}

	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.CacheRetention, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached: %w", err)
		}
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached unreachable at startup; lookups will fall through to upstream", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		s.Cache = mc
		s.CachePing = mc.Ping
		s.closers.AddFunc("memcached", mc.Close)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		s.Cache = cache.NewInMemoryCache()
		logger.Info("cache backend: memory")
	}

	s.Generator = fallback.NewGenerator(nil, clock)
	s.Measurements = service.NewMeasurementService(
		openaq,
		normalize.New(s.Generator, clock),
		s.Generator,
		s.Cache,
		service.Options{Freshness: cfg.Freshness, Clock: clock, Logger: logger},
	)
	s.Batch = batch.New(s.Measurements, s.Generator, batch.Options{
		Size:   cfg.BatchSize,
		Pause:  cfg.BatchPause,
		Clock:  clock,
		Logger: logger,
	})
	return s, nil
}

// Close releases the resources the stack owns.
func (s *Stack) Close(ctx context.Context, logger *zap.Logger) error {
	return s.closers.Close(ctx, logger)
}

// newBreaker returns nil when circuit breaking is disabled so clients call
// upstream directly.
func newBreaker(cfg *config.Config, component string, clock clockwork.Clock, logger *zap.Logger) client.Breaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		Clock:            clock,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}
