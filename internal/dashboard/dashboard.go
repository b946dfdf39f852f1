// Package dashboard derives ranking and state-level views from city results.
package dashboard

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/kjstillabower/aqi-watch/internal/aqi"
	"github.com/kjstillabower/aqi-watch/internal/models"
)

// DefaultTopLimit is the size of the compare view.
const DefaultTopLimit = 6

// ErrUnknownState is returned when no configured city belongs to the state.
var ErrUnknownState = errors.New("unknown state")

// Top returns up to limit results ordered by AQI, worst first. Ties keep
// input order. limit <= 0 means DefaultTopLimit.
func Top(results []models.CityResult, limit int) []models.CityResult {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	sorted := append([]models.CityResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Record.AQI > sorted[j].Record.AQI
	})
	return sorted[:min(limit, len(sorted))]
}

// PollutantReading is one pollutant's value with its display metadata and grade.
type PollutantReading struct {
	aqi.PollutantInfo
	Value  float64    `json:"value"`
	Status aqi.Status `json:"status"`
}

// StateDetail aggregates the configured cities of one state.
type StateDetail struct {
	State      string                   `json:"state"`
	Cities     []string                 `json:"cities"`
	Record     models.MeasurementRecord `json:"record"`
	Category   aqi.Category             `json:"category"`
	Pollutants []PollutantReading       `json:"pollutants"`
	// Fallbacks counts cities whose record was simulated.
	Fallbacks int `json:"fallbacks"`
}

// State averages every result whose state matches name, case-insensitively.
// The AQI is recomputed from the mean PM2.5 rather than averaged.
func State(name string, results []models.CityResult) (StateDetail, error) {
	name = strings.TrimSpace(name)
	var members []models.CityResult
	for _, r := range results {
		if strings.EqualFold(r.State, name) {
			members = append(members, r)
		}
	}
	if len(members) == 0 {
		return StateDetail{}, ErrUnknownState
	}

	d := StateDetail{State: members[0].State}
	var pm25, pm10 float64
	var no2, so2, co, o3 mean
	for _, m := range members {
		d.Cities = append(d.Cities, m.Name)
		if m.IsFallback() {
			d.Fallbacks++
		}
		pm25 += m.Record.PM25
		pm10 += m.Record.PM10
		no2.add(m.Record.NO2)
		so2.add(m.Record.SO2)
		co.add(m.Record.CO)
		o3.add(m.Record.O3)
		if m.Record.Timestamp > d.Record.Timestamp {
			d.Record.Timestamp = m.Record.Timestamp
		}
	}
	n := float64(len(members))
	d.Record.City = d.State
	d.Record.PM25 = round1(pm25 / n)
	d.Record.PM10 = round1(pm10 / n)
	d.Record.NO2 = no2.value()
	d.Record.SO2 = so2.value()
	d.Record.CO = co.value()
	d.Record.O3 = o3.value()
	d.Record.AQI = aqi.ComputeAQI(d.Record.PM25)
	d.Category = aqi.Classify(d.Record.AQI)
	d.Pollutants = Pollutants(d.Record)
	return d, nil
}

// Pollutants grades each pollutant of rec. Missing values grade as zero.
func Pollutants(rec models.MeasurementRecord) []PollutantReading {
	values := map[aqi.Pollutant]float64{
		aqi.PM25: rec.PM25,
		aqi.PM10: rec.PM10,
		aqi.NO2:  deref(rec.NO2),
		aqi.SO2:  deref(rec.SO2),
		aqi.CO:   deref(rec.CO),
		aqi.O3:   deref(rec.O3),
	}
	infos := aqi.Pollutants()
	out := make([]PollutantReading, len(infos))
	for i, info := range infos {
		v := values[info.Pollutant]
		out[i] = PollutantReading{
			PollutantInfo: info,
			Value:         v,
			Status:        aqi.PollutantStatus(v, info.Thresholds),
		}
	}
	return out
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(p *float64) {
	if p == nil {
		return
	}
	m.sum += *p
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	return models.Float(round1(m.sum / float64(m.n)))
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
