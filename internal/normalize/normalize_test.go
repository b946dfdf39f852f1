package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/aqi-watch/internal/aqi"
	"github.com/kjstillabower/aqi-watch/internal/client"
	"github.com/kjstillabower/aqi-watch/internal/models"
)

type stubSimulator struct {
	rec   models.MeasurementRecord
	calls int
}

func (s *stubSimulator) Simulate(city string) models.MeasurementRecord {
	s.calls++
	r := s.rec
	r.City = city
	return r
}

func station(ms ...client.Measurement) client.StationResult {
	return client.StationResult{Measurements: ms}
}

func m(param string, v float64, ts string) client.Measurement {
	return client.Measurement{Parameter: param, Value: v, LastUpdated: ts}
}

var fixedNow = time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

func newNormalizer(sim Simulator) *Normalizer {
	return New(sim, clockwork.NewFakeClockAt(fixedNow))
}

func TestNormalize_PM10Only(t *testing.T) {
	sim := &stubSimulator{}
	resp := client.LatestResponse{Results: []client.StationResult{station(m("pm10", 80, "2025-11-03T08:00:00Z"))}}

	rec, err := newNormalizer(sim).Normalize(resp, "Delhi")
	require.NoError(t, err)
	assert.Equal(t, 40.0, rec.PM25)
	assert.Equal(t, 80.0, rec.PM10)
	assert.Equal(t, aqi.ComputeAQI(40), rec.AQI)
	assert.Zero(t, sim.calls)
}

func TestNormalize_AveragesAcrossStations(t *testing.T) {
	resp := client.LatestResponse{Results: []client.StationResult{
		station(m("PM25", 100, "2025-11-03T08:00:00Z"), m("no2", 40, "2025-11-03T08:00:00Z")),
		station(m("pm25", 140, "2025-11-03T08:30:00Z"), m("pm10", 200, "")),
		station(m("pm25", 120, ""), m("NO2", 60, ""), m("co", 1.2, "")),
	}}

	rec, err := newNormalizer(&stubSimulator{}).Normalize(resp, "Delhi")
	require.NoError(t, err)

	want := models.MeasurementRecord{
		City:      "Delhi",
		Timestamp: "2025-11-03T08:00:00Z",
		PM25:      120,
		PM10:      200,
		NO2:       models.Float(50),
		CO:        models.Float(1.2),
		AQI:       aqi.ComputeAQI(120),
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_UpstreamAQIIgnored(t *testing.T) {
	resp := client.LatestResponse{Results: []client.StationResult{
		station(m("pm25", 30, ""), m("aqi", 999, "")),
	}}
	rec, err := newNormalizer(&stubSimulator{}).Normalize(resp, "Pune")
	require.NoError(t, err)
	assert.Equal(t, 50, rec.AQI)
}

func TestNormalize_ZeroPM25IsPresent(t *testing.T) {
	resp := client.LatestResponse{Results: []client.StationResult{
		station(m("pm25", 0, ""), m("pm10", 90, "")),
	}}
	rec, err := newNormalizer(&stubSimulator{}).Normalize(resp, "Shimla")
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.PM25)
	assert.Equal(t, 0, rec.AQI)
}

func TestNormalize_NoParticulatesUsesSimulator(t *testing.T) {
	sim := &stubSimulator{rec: models.MeasurementRecord{AQI: 150, PM25: 60, PM10: 90, NO2: models.Float(33)}}
	resp := client.LatestResponse{Results: []client.StationResult{
		station(m("o3", 70, ""), m("so2", 12, "")),
	}}

	rec, err := newNormalizer(sim).Normalize(resp, "Jaipur")
	require.NoError(t, err)
	assert.Equal(t, 1, sim.calls)
	assert.Equal(t, 60.0, rec.PM25)
	assert.Equal(t, 90.0, rec.PM10)
	assert.Equal(t, aqi.ComputeAQI(60), rec.AQI)
	require.NotNil(t, rec.O3)
	assert.Equal(t, 70.0, *rec.O3)
	require.NotNil(t, rec.SO2)
	assert.Nil(t, rec.NO2, "simulated secondary pollutants must not leak in")
}

func TestNormalize_TimestampFallsBackToNow(t *testing.T) {
	resp := client.LatestResponse{Results: []client.StationResult{station(m("pm25", 45, ""))}}
	rec, err := newNormalizer(&stubSimulator{}).Normalize(resp, "Chennai")
	require.NoError(t, err)
	assert.Equal(t, "2025-11-03T09:00:00Z", rec.Timestamp)
}

func TestNormalize_NoStations(t *testing.T) {
	_, err := newNormalizer(&stubSimulator{}).Normalize(client.LatestResponse{}, "Delhi")
	assert.True(t, errors.Is(err, ErrNoStations))
	assert.True(t, errors.Is(err, client.ErrMalformedResponse))
}
