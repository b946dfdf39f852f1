// Package batch fetches many cities in fixed-size concurrent batches with a
// pause between batches.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/observability"
)

const (
	DefaultSize  = 5
	DefaultPause = time.Second
)

// Getter looks up one city and never fails. *service.MeasurementService satisfies it.
type Getter interface {
	GetOrFetch(ctx context.Context, city string) models.Result
}

// Simulator fills cities left unfetched when the context ends mid-run.
type Simulator interface {
	Simulate(city string) models.MeasurementRecord
}

// Options tunes an Orchestrator. Zero values take defaults.
type Options struct {
	Size   int
	Pause  time.Duration
	Clock  clockwork.Clock
	Logger *zap.Logger
	// OnBatch is called before each batch starts with its index and size.
	OnBatch func(index, size int)
}

// Orchestrator runs FetchAll.
type Orchestrator struct {
	getter    Getter
	simulator Simulator
	size      int
	pause     time.Duration
	clock     clockwork.Clock
	logger    *zap.Logger
	onBatch   func(index, size int)
}

// New returns an Orchestrator over getter.
func New(getter Getter, simulator Simulator, opts Options) *Orchestrator {
	if opts.Size < 1 {
		opts.Size = DefaultSize
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		getter:    getter,
		simulator: simulator,
		size:      opts.Size,
		pause:     opts.Pause,
		clock:     opts.Clock,
		logger:    opts.Logger,
		onBatch:   opts.OnBatch,
	}
}

// FetchAll returns one result per city in input order. Batches run one at a
// time; fetches within a batch run concurrently and the batch waits for all
// of them. The pause separates batches and is skipped after the last. If ctx
// ends during a pause, the remaining cities get simulated records.
func (o *Orchestrator) FetchAll(ctx context.Context, cities []models.City) []models.CityResult {
	start := o.clock.Now()
	out := make([]models.CityResult, len(cities))
	batches := (len(cities) + o.size - 1) / o.size

	for b := 0; b < batches; b++ {
		lo := b * o.size
		hi := min(lo+o.size, len(cities))

		if b > 0 && o.pause > 0 {
			select {
			case <-ctx.Done():
				o.logger.Warn("batch fetch interrupted, filling remaining cities",
					zap.Int("remaining", len(cities)-lo), zap.Error(ctx.Err()))
				o.fill(out, cities, lo, ctx.Err())
				return out
			case <-o.clock.After(o.pause):
			}
		}

		if o.onBatch != nil {
			o.onBatch(b, hi-lo)
		}
		o.runBatch(ctx, out, cities, lo, hi)
	}

	observability.BatchCitiesTotal.Add(float64(len(cities)))
	observability.BatchDuration.Observe(o.clock.Since(start).Seconds())
	o.logger.Info("batch fetch complete",
		zap.Int("cities", len(cities)),
		zap.Int("batches", batches),
		zap.Int("fallbacks", countFallbacks(out)),
		zap.Duration("duration", o.clock.Since(start)))
	return out
}

func (o *Orchestrator) runBatch(ctx context.Context, out []models.CityResult, cities []models.City, lo, hi int) {
	// Getter never fails, so the group only provides the fan-in.
	var g errgroup.Group
	for i := lo; i < hi; i++ {
		i := i
		g.Go(func() error {
			out[i] = models.CityResult{City: cities[i], Result: o.getter.GetOrFetch(ctx, cities[i].Name)}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) fill(out []models.CityResult, cities []models.City, from int, cause error) {
	err := fmt.Errorf("batch interrupted: %w", cause)
	for i := from; i < len(cities); i++ {
		out[i] = models.CityResult{
			City: cities[i],
			Result: models.Result{
				Record: o.simulator.Simulate(cities[i].Name),
				Source: models.SourceFallback,
				Err:    err,
			},
		}
	}
}

func countFallbacks(rs []models.CityResult) int {
	n := 0
	for _, r := range rs {
		if r.IsFallback() {
			n++
		}
	}
	return n
}
