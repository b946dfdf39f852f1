// Package aqi maps pollutant concentrations to the Indian air quality index
// and its health categories.
package aqi

import "math"

// Category is one band of the AQI scale.
type Category struct {
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	Label       string `json:"label"`
	Color       string `json:"color"`
	TextColor   string `json:"textColor"`
	Class       string `json:"class"`
	Description string `json:"description"`
}

// Contains reports whether v lies within [Min, Max].
func (c Category) Contains(v int) bool {
	return v >= c.Min && v <= c.Max
}

// categories is ordered from least to most severe. The last entry is the catch-all.
var categories = []Category{
	{Min: 0, Max: 50, Label: "Good", Color: "#00e400", TextColor: "#00e400", Class: "good",
		Description: "Air quality is satisfactory, and air pollution poses little or no risk."},
	{Min: 51, Max: 100, Label: "Satisfactory", Color: "#ffff00", TextColor: "#d4d400", Class: "satisfactory",
		Description: "Air quality is acceptable. Sensitive individuals should consider limiting prolonged outdoor exertion."},
	{Min: 101, Max: 200, Label: "Moderate", Color: "#ff7e00", TextColor: "#ff7e00", Class: "moderate",
		Description: "Members of sensitive groups may experience health effects."},
	{Min: 201, Max: 300, Label: "Poor", Color: "#ff0000", TextColor: "#ff0000", Class: "poor",
		Description: "Everyone may begin to experience health effects."},
	{Min: 301, Max: 400, Label: "Very Poor", Color: "#8f3f97", TextColor: "#8f3f97", Class: "very-poor",
		Description: "Health alert: The risk of health effects is increased for everyone."},
	{Min: 401, Max: 999, Label: "Severe", Color: "#7e0023", TextColor: "#7e0023", Class: "severe",
		Description: "Health warning of emergency conditions: everyone is more likely to be affected."},
}

// Categories returns a copy of the category table in ascending severity.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Classify returns the first category whose bounds contain v. Values outside
// every band (including negatives) get the most severe category.
func Classify(v int) Category {
	for _, c := range categories {
		if c.Contains(v) {
			return c
		}
	}
	return categories[len(categories)-1]
}

// ComputeAQI converts a PM2.5 concentration (µg/m³) into an index using the
// Indian piecewise-linear breakpoints. Negative input is not validated.
func ComputeAQI(pm25 float64) int {
	switch {
	case pm25 <= 30:
		return roundHalfUp(pm25 / 30 * 50)
	case pm25 <= 60:
		return roundHalfUp(50 + (pm25-30)/30*50)
	case pm25 <= 90:
		return roundHalfUp(100 + (pm25-60)/30*100)
	case pm25 <= 120:
		return roundHalfUp(200 + (pm25-90)/30*100)
	case pm25 <= 250:
		return roundHalfUp(300 + (pm25-120)/130*100)
	default:
		return roundHalfUp(400 + (pm25-250)/130*100)
	}
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
