package aqi

// Pollutant identifies a measured species.
type Pollutant string

const (
	PM25 Pollutant = "pm25"
	PM10 Pollutant = "pm10"
	NO2  Pollutant = "no2"
	SO2  Pollutant = "so2"
	CO   Pollutant = "co"
	O3   Pollutant = "o3"
)

// Thresholds are the upper bounds of the good and moderate bands for one pollutant.
type Thresholds struct {
	Good     float64 `json:"good"`
	Moderate float64 `json:"moderate"`
	Poor     float64 `json:"poor"`
}

// Status is the qualitative reading of a single pollutant value.
type Status struct {
	Class string `json:"class"`
	Label string `json:"label"`
}

// PollutantInfo describes how a pollutant is displayed and judged.
type PollutantInfo struct {
	Pollutant  Pollutant  `json:"pollutant"`
	Name       string     `json:"name"`
	Unit       string     `json:"unit"`
	Thresholds Thresholds `json:"thresholds"`
}

var pollutants = []PollutantInfo{
	{PM25, "PM2.5", "µg/m³", Thresholds{Good: 30, Moderate: 60, Poor: 90}},
	{PM10, "PM10", "µg/m³", Thresholds{Good: 50, Moderate: 100, Poor: 250}},
	{NO2, "NO₂", "µg/m³", Thresholds{Good: 40, Moderate: 80, Poor: 180}},
	{SO2, "SO₂", "µg/m³", Thresholds{Good: 40, Moderate: 80, Poor: 380}},
	{CO, "CO", "mg/m³", Thresholds{Good: 1, Moderate: 2, Poor: 10}},
	{O3, "O₃", "µg/m³", Thresholds{Good: 50, Moderate: 100, Poor: 168}},
}

// Pollutants returns display metadata for every tracked pollutant, in display order.
func Pollutants() []PollutantInfo {
	out := make([]PollutantInfo, len(pollutants))
	copy(out, pollutants)
	return out
}

// PollutantStatus grades value against t. Anything above Moderate is poor.
func PollutantStatus(value float64, t Thresholds) Status {
	switch {
	case value <= t.Good:
		return Status{Class: "good", Label: "Good"}
	case value <= t.Moderate:
		return Status{Class: "moderate", Label: "Moderate"}
	default:
		return Status{Class: "poor", Label: "Poor"}
	}
}
