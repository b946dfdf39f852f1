package models

import "time"

// MeasurementRecord is the canonical per-city air quality reading.
// AQI is always derived from PM25, never copied from upstream.
type MeasurementRecord struct {
	City      string   `json:"city"`
	Timestamp string   `json:"timestamp"`
	PM25      float64  `json:"pm25"`
	PM10      float64  `json:"pm10"`
	NO2       *float64 `json:"no2,omitempty"`
	SO2       *float64 `json:"so2,omitempty"`
	CO        *float64 `json:"co,omitempty"`
	O3        *float64 `json:"o3,omitempty"`
	AQI       int      `json:"aqi"`
}

// Clone returns a deep copy so callers never share pollutant pointers with cache storage.
func (r MeasurementRecord) Clone() MeasurementRecord {
	out := r
	out.NO2 = cloneFloat(r.NO2)
	out.SO2 = cloneFloat(r.SO2)
	out.CO = cloneFloat(r.CO)
	out.O3 = cloneFloat(r.O3)
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v. Used to populate optional pollutant fields.
func Float(v float64) *float64 {
	return &v
}

// CacheEntry is a stored record plus the time it was fetched.
type CacheEntry struct {
	Key       string            `json:"key"`
	Record    MeasurementRecord `json:"record"`
	FetchedAt time.Time         `json:"fetchedAt"`
}
