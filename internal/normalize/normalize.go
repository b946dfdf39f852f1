// Package normalize reduces raw station readings to one record per city.
package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/aqi-watch/internal/aqi"
	"github.com/kjstillabower/aqi-watch/internal/client"
	"github.com/kjstillabower/aqi-watch/internal/models"
)

// ErrNoStations is returned when the upstream payload has no station results.
// It wraps client.ErrMalformedResponse.
var ErrNoStations = errors.Join(client.ErrMalformedResponse, errors.New("no station results"))

// pm10ToPM25 approximates PM2.5 from PM10 when no PM2.5 reading exists.
const pm10ToPM25 = 0.5

// Simulator supplies stand-in values when no particulate readings exist.
// *fallback.Generator satisfies it.
type Simulator interface {
	Simulate(city string) models.MeasurementRecord
}

// Normalizer averages station measurements and derives the AQI.
type Normalizer struct {
	sim   Simulator
	clock clockwork.Clock
}

// New returns a Normalizer. clock is used when no station carries a timestamp.
func New(sim Simulator, clock clockwork.Clock) *Normalizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Normalizer{sim: sim, clock: clock}
}

// Normalize builds the canonical record for city from resp. Each parameter
// is the unweighted mean over all stations. Missing PM2.5 is approximated
// from PM10; when both are missing the particulate values come from the
// simulator and the other pollutants are kept. The AQI is always recomputed
// from the final PM2.5.
func (n *Normalizer) Normalize(resp client.LatestResponse, city string) (models.MeasurementRecord, error) {
	if len(resp.Results) == 0 {
		return models.MeasurementRecord{}, ErrNoStations
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	var timestamp string
	for _, station := range resp.Results {
		for _, m := range station.Measurements {
			param := strings.ToLower(strings.TrimSpace(m.Parameter))
			sums[param] += m.Value
			counts[param]++
			if timestamp == "" && m.LastUpdated != "" {
				timestamp = m.LastUpdated
			}
		}
	}
	if timestamp == "" {
		timestamp = n.clock.Now().UTC().Format(time.RFC3339)
	}

	mean := func(param string) (float64, bool) {
		c := counts[param]
		if c == 0 {
			return 0, false
		}
		return sums[param] / float64(c), true
	}
	optional := func(param string) *float64 {
		if v, ok := mean(param); ok {
			return models.Float(v)
		}
		return nil
	}

	rec := models.MeasurementRecord{
		City:      city,
		Timestamp: timestamp,
		NO2:       optional(string(aqi.NO2)),
		SO2:       optional(string(aqi.SO2)),
		CO:        optional(string(aqi.CO)),
		O3:        optional(string(aqi.O3)),
	}

	pm25, hasPM25 := mean(string(aqi.PM25))
	pm10, hasPM10 := mean(string(aqi.PM10))
	switch {
	case hasPM25:
		rec.PM25 = pm25
		rec.PM10 = pm10
	case hasPM10:
		rec.PM25 = pm10 * pm10ToPM25
		rec.PM10 = pm10
	default:
		sim := n.sim.Simulate(city)
		rec.PM25 = sim.PM25
		rec.PM10 = sim.PM10
	}
	rec.AQI = aqi.ComputeAQI(rec.PM25)
	return rec, nil
}
