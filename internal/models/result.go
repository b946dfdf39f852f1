package models

// Source says where a record came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCached   Source = "cached"
	SourceFallback Source = "fallback"
)

// Result is the outcome of a single city lookup. Err is set only for fallbacks
// and holds the upstream failure that was absorbed.
type Result struct {
	Record MeasurementRecord `json:"record"`
	Source Source            `json:"source"`
	Err    error             `json:"-"`
}

// IsFallback reports whether the record is simulated.
func (r Result) IsFallback() bool {
	return r.Source == SourceFallback
}

// CityResult pairs a configured city with its lookup result.
type CityResult struct {
	City
	Result
}
