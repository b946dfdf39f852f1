// Package fallback produces plausible synthetic readings when live data is unavailable.
package fallback

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/aqi-watch/internal/models"
)

const (
	defaultBaseAQI = 100
	maxOffset      = 20
	minAQI         = 30
	maxAQI         = 500

	// pm25 = aqi / pm25Divisor, pm10 = pm25 * pm10Ratio.
	pm25Divisor = 2.5
	pm10Ratio   = 1.5
)

// baseAQI holds typical index values for well-known cities.
var baseAQI = map[string]int{
	"Delhi":     180,
	"Mumbai":    120,
	"Bangalore": 90,
	"Hyderabad": 110,
	"Chennai":   95,
	"Kolkata":   130,
	"Pune":      100,
	"Ahmedabad": 140,
	"Jaipur":    150,
	"Lucknow":   160,
}

// BaseAQI returns the reference index for city, or the default when unknown.
func BaseAQI(city string) int {
	if v, ok := baseAQI[city]; ok {
		return v
	}
	return defaultBaseAQI
}

// Rand is the subset of *rand.Rand the generator draws from.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Generator creates simulated measurement records. Safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	rng   Rand
	clock clockwork.Clock
}

// NewGenerator returns a Generator using rng and clock. A nil rng is seeded
// from the current time; a nil clock uses the real clock.
func NewGenerator(rng Rand, clock clockwork.Clock) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Generator{rng: rng, clock: clock}
}

// Simulate returns a synthetic record for city. The index is the city's base
// value plus a uniform offset in [-20, 20], clamped to [30, 500]. Secondary
// pollutants are sampled independently and do not affect the index.
func (g *Generator) Simulate(city string) models.MeasurementRecord {
	g.mu.Lock()
	offset := g.rng.Intn(2*maxOffset+1) - maxOffset
	no2 := float64(g.rng.Intn(60) + 20)
	so2 := float64(g.rng.Intn(30) + 5)
	co := math.Round((g.rng.Float64()*2+0.5)*10) / 10
	o3 := float64(g.rng.Intn(100) + 30)
	g.mu.Unlock()

	aqi := clamp(BaseAQI(city)+offset, minAQI, maxAQI)
	pm25 := float64(aqi) / pm25Divisor
	return models.MeasurementRecord{
		City:      city,
		Timestamp: g.clock.Now().UTC().Format(time.RFC3339),
		AQI:       aqi,
		PM25:      pm25,
		PM10:      pm25 * pm10Ratio,
		NO2:       models.Float(no2),
		SO2:       models.Float(so2),
		CO:        models.Float(co),
		O3:        models.Float(o3),
	}
}

// TrendPoint is one day of simulated history.
type TrendPoint struct {
	Date string  `json:"date"`
	AQI  int     `json:"aqi"`
	PM25 float64 `json:"pm25"`
}

// Trend returns days points of simulated daily history for city, oldest first,
// ending today. Each point jitters the simulated current value by up to ±20.
func (g *Generator) Trend(city string, days int) []TrendPoint {
	if days <= 0 {
		return nil
	}
	current := g.Simulate(city)
	now := g.clock.Now().UTC()

	out := make([]TrendPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		g.mu.Lock()
		variation := g.rng.Float64()*40 - 20
		g.mu.Unlock()

		v := math.Max(minAQI, math.Min(maxAQI, float64(current.AQI)+variation))
		out = append(out, TrendPoint{
			Date: now.AddDate(0, 0, -i).Format("2006-01-02"),
			AQI:  int(math.Round(v)),
			PM25: math.Round(v / pm25Divisor),
		})
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
