package models

import "time"

// Report is a citizen pollution complaint.
type Report struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Location  string    `json:"location" db:"location"`
	Complaint string    `json:"complaint" db:"complaint"`
	Timestamp time.Time `json:"timestamp" db:"submitted_at"`
}

// Place is a geocoded location.
type Place struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"displayName"`
	Name        string  `json:"name"`
}
