// Package service implements the per-city fetch cache: fresh entries are
// served from storage, stale or missing ones are fetched, normalized and
// stored, and any failure is absorbed into a simulated record.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/aqi-watch/internal/cache"
	"github.com/kjstillabower/aqi-watch/internal/client"
	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/observability"
	"github.com/kjstillabower/aqi-watch/internal/traffic"
)

// DefaultFreshness is how long a fetched record is served from cache.
const DefaultFreshness = 5 * time.Minute

// Normalizer turns a raw upstream payload into a record. *normalize.Normalizer satisfies it.
type Normalizer interface {
	Normalize(resp client.LatestResponse, city string) (models.MeasurementRecord, error)
}

// Simulator produces fallback records. *fallback.Generator satisfies it.
type Simulator interface {
	Simulate(city string) models.MeasurementRecord
}

// Options tunes a MeasurementService. Zero values take defaults.
type Options struct {
	Freshness time.Duration
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// MeasurementService serves per-city records with cache-aside freshness.
type MeasurementService struct {
	fetcher    client.MeasurementFetcher
	normalizer Normalizer
	simulator  Simulator
	cache      cache.Cache
	freshness  time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
	flights    singleflight.Group
}

// Stats describes the cache contents.
type Stats struct {
	Backend   string   `json:"backend"`
	Size      int      `json:"size"`
	Keys      []string `json:"keys"`
	Freshness string   `json:"freshness"`
}

// NewMeasurementService wires a fetcher, normalizer, simulator and cache.
func NewMeasurementService(fetcher client.MeasurementFetcher, normalizer Normalizer, simulator Simulator, c cache.Cache, opts Options) *MeasurementService {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MeasurementService{
		fetcher:    fetcher,
		normalizer: normalizer,
		simulator:  simulator,
		cache:      c,
		freshness:  opts.Freshness,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// loggerFromContext returns the request-scoped logger set by the HTTP
// middleware, or fallback when there is none.
func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return fallback
}

// GetOrFetch returns the record for city. A cached record younger than the
// freshness window is returned unchanged. Otherwise the upstream is queried
// and the normalized record is stored. Upstream or normalization failures
// yield a simulated record that is not cached; Result.Err carries the cause.
// Concurrent misses for the same city share one upstream call.
func (s *MeasurementService) GetOrFetch(ctx context.Context, city string) models.Result {
	city = strings.TrimSpace(city)
	start := s.clock.Now()
	logger := loggerFromContext(ctx, s.logger).With(zap.String("city", city))

	if entry, ok := s.fresh(ctx, city, logger); ok {
		observability.CacheHitsTotal.WithLabelValues(s.cache.Backend()).Inc()
		logger.Debug("cache hit", zap.Time("fetched_at", entry.FetchedAt))
		return s.finish(city, models.Result{Record: entry.Record, Source: models.SourceCached})
	}
	observability.CacheMissesTotal.WithLabelValues(s.cache.Backend()).Inc()

	ch := s.flights.DoChan(city, func() (interface{}, error) {
		// The shared call outlives any single waiter; the client's own
		// timeout bounds it.
		return s.fetchAndStore(context.WithoutCancel(ctx), city, logger)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	}

	if res.Err != nil {
		logger.Warn("upstream fetch failed, serving simulated data",
			zap.Error(res.Err),
			zap.String("category", string(client.CategorizeError(res.Err))))
		return s.finish(city, models.Result{
			Record: s.simulator.Simulate(city),
			Source: models.SourceFallback,
			Err:    fmt.Errorf("fetch %s: %w", city, res.Err),
		})
	}

	entry := res.Val.(models.CacheEntry)
	logger.Debug("measurement served",
		zap.Bool("shared", res.Shared),
		zap.Duration("duration", s.clock.Since(start)))
	return s.finish(city, models.Result{Record: entry.Record.Clone(), Source: models.SourceLive})
}

// fresh returns the cached entry for city when it is younger than the window.
// Cache read errors are logged and treated as a miss.
func (s *MeasurementService) fresh(ctx context.Context, city string, logger *zap.Logger) (models.CacheEntry, bool) {
	entry, ok, err := s.cache.Get(ctx, city)
	if err != nil {
		logger.Warn("cache get failed", zap.Error(err))
		return models.CacheEntry{}, false
	}
	if !ok || s.clock.Since(entry.FetchedAt) >= s.freshness {
		return models.CacheEntry{}, false
	}
	return entry, true
}

func (s *MeasurementService) fetchAndStore(ctx context.Context, city string, logger *zap.Logger) (models.CacheEntry, error) {
	// A flight that finished just before this one started may have stored
	// a fresh entry already.
	if entry, ok := s.fresh(ctx, city, logger); ok {
		return entry, nil
	}

	logger.Debug("cache miss, fetching upstream")
	resp, err := s.fetcher.FetchLatest(ctx, city)
	if err != nil {
		return models.CacheEntry{}, err
	}
	record, err := s.normalizer.Normalize(resp, city)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("normalize: %w", err)
	}

	entry := models.CacheEntry{Key: city, Record: record, FetchedAt: s.clock.Now()}
	if err := s.cache.Set(ctx, entry); err != nil {
		logger.Warn("cache set failed", zap.Error(err))
	}
	return entry, nil
}

func (s *MeasurementService) finish(city string, r models.Result) models.Result {
	if r.IsFallback() {
		traffic.RecordFallback()
	} else {
		traffic.RecordLive()
	}
	observability.RecordLookup(city, string(r.Source))
	return r
}

// Clear empties the cache.
func (s *MeasurementService) Clear(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	s.logger.Info("cache cleared", zap.String("backend", s.cache.Backend()))
	return nil
}

// Stats reports the cache size and keys.
func (s *MeasurementService) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.cache.Keys(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cache keys: %w", err)
	}
	return Stats{
		Backend:   s.cache.Backend(),
		Size:      len(keys),
		Keys:      keys,
		Freshness: s.freshness.String(),
	}, nil
}
