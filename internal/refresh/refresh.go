// Package refresh keeps a periodically refreshed snapshot of every
// configured city.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/observability"
)

// DefaultSchedule matches the dashboard's five-minute auto refresh.
const DefaultSchedule = "@every 5m"

// ErrNoSnapshot is returned by Snapshot when no completed refresh exists and
// the caller's context ended before the running one finished.
var ErrNoSnapshot = errors.New("no city snapshot available yet")

const refreshKey = "all"

// Fetcher runs a full multi-city fetch. *batch.Orchestrator satisfies it.
type Fetcher interface {
	FetchAll(ctx context.Context, cities []models.City) []models.CityResult
}

// Publisher receives each completed snapshot.
type Publisher interface {
	PublishReadings(ctx context.Context, results []models.CityResult) error
}

// Options tunes a Refresher. Zero values take defaults.
type Options struct {
	Schedule  string
	Publisher Publisher
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Refresher runs FetchAll on a cron schedule and keeps the latest results.
type Refresher struct {
	fetcher   Fetcher
	cities    []models.City
	schedule  string
	publisher Publisher
	clock     clockwork.Clock
	logger    *zap.Logger

	mu      sync.RWMutex
	results []models.CityResult
	at      time.Time

	// group lets every concurrent refresh share one FetchAll.
	group singleflight.Group

	runMu  sync.Mutex
	runCtx context.Context
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Refresher for cities. Call Start to begin scheduling.
func New(fetcher Fetcher, cities []models.City, opts Options) *Refresher {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Refresher{
		fetcher:   fetcher,
		cities:    append([]models.City(nil), cities...),
		schedule:  opts.Schedule,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Refresh fetches every city, stores the snapshot and publishes it.
// Calls made while a refresh is running share its results. A run whose
// context ended is returned to its callers but neither stored nor published.
// A publish failure is logged and does not discard the snapshot.
func (r *Refresher) Refresh(ctx context.Context) []models.CityResult {
	v, _, _ := r.group.Do(refreshKey, func() (interface{}, error) {
		return r.run(ctx), nil
	})
	return cloneResults(v.([]models.CityResult))
}

func (r *Refresher) run(ctx context.Context) []models.CityResult {
	start := r.clock.Now()
	results := r.fetcher.FetchAll(ctx, r.cities)

	if err := ctx.Err(); err != nil {
		observability.RefreshRunsTotal.WithLabelValues("cancelled").Inc()
		r.logger.Warn("refresh cancelled, snapshot not replaced",
			zap.Error(err), zap.Duration("duration", r.clock.Since(start)))
		return results
	}

	r.mu.Lock()
	r.results = results
	r.at = r.clock.Now()
	r.mu.Unlock()

	status := "success"
	if r.publisher != nil {
		if err := r.publisher.PublishReadings(ctx, results); err != nil {
			status = "publish_failed"
			r.logger.Warn("publish readings failed", zap.Error(err))
		}
	}
	observability.RefreshRunsTotal.WithLabelValues(status).Inc()
	r.logger.Info("refresh complete",
		zap.Int("cities", len(results)),
		zap.Duration("duration", r.clock.Since(start)),
	)
	return results
}

// Latest returns a copy of the most recent snapshot and when it was taken.
// ok is false until the first refresh completes.
func (r *Refresher) Latest() (results []models.CityResult, at time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.results == nil {
		return nil, time.Time{}, false
	}
	return cloneResults(r.results), r.at, true
}

// Snapshot returns the latest results. When none exist yet it joins the
// running refresh, or starts one that outlives ctx, and waits for it until
// ctx ends.
func (r *Refresher) Snapshot(ctx context.Context) ([]models.CityResult, time.Time, error) {
	if results, at, ok := r.Latest(); ok {
		return results, at, nil
	}

	runCtx := r.detachedContext(ctx)
	ch := r.group.DoChan(refreshKey, func() (interface{}, error) {
		// A refresh may have finished since the check above.
		if results, _, ok := r.Latest(); ok {
			return results, nil
		}
		return r.run(runCtx), nil
	})
	select {
	case <-ch:
		if results, at, ok := r.Latest(); ok {
			return results, at, nil
		}
		return nil, time.Time{}, ErrNoSnapshot
	case <-ctx.Done():
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrNoSnapshot, ctx.Err())
	}
}

// detachedContext is the scheduler's context once started, so Stop cancels
// refreshes begun on behalf of a request.
func (r *Refresher) detachedContext(ctx context.Context) context.Context {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.runCtx != nil {
		return r.runCtx
	}
	return context.WithoutCancel(ctx)
}

// Start runs an initial refresh in the background and schedules the rest.
// Overlapping runs are skipped. Start returns an error for an invalid schedule
// or when already started.
func (r *Refresher) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cron != nil {
		return errors.New("refresher already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger.Sugar()})))
	if _, err := c.AddFunc(r.schedule, func() { r.Refresh(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("refresh schedule %q: %w", r.schedule, err)
	}
	r.cron = c
	r.cancel = cancel
	r.runCtx = runCtx

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Refresh(runCtx)
	}()
	c.Start()
	r.logger.Info("refresh scheduled", zap.String("schedule", r.schedule), zap.Int("cities", len(r.cities)))
	return nil
}

// Stop halts scheduling, cancels a running refresh and waits for it to
// return or for ctx to end.
func (r *Refresher) Stop(ctx context.Context) error {
	r.runMu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel, r.runCtx = nil, nil, nil
	r.runMu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneResults(in []models.CityResult) []models.CityResult {
	out := make([]models.CityResult, len(in))
	for i, cr := range in {
		out[i] = cr
		out[i].Record = cr.Record.Clone()
	}
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
