// Package report accepts citizen pollution reports: it validates them,
// appends them to the report store, forwards them to a webhook and
// publishes them as events.
package report

import (
	"errors"

	"github.com/kjstillabower/aqi-watch/internal/validation"
)

var (
	// ErrInvalid wraps every field validation failure.
	ErrInvalid = errors.New("invalid report")
	// ErrPersistence is returned when the report could not be stored.
	ErrPersistence = errors.New("report persistence failed")
)

// Field limits, in runes.
const (
	maxNameLen      = 100
	minLocationLen  = 3
	maxLocationLen  = 200
	minComplaintLen = 10
	maxComplaintLen = 2000
)

// Submission is the user-supplied part of a report.
type Submission struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Location  string `json:"location"`
	Complaint string `json:"complaint"`
}

// Validate trims every field and checks it. All failing fields are reported
// together as *validation.FieldError values joined under ErrInvalid.
func Validate(s Submission) (Submission, error) {
	errs := []error{ErrInvalid}
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, &validation.FieldError{Field: field, Err: err})
		}
	}

	var (
		out Submission
		err error
	)
	out.Name, err = validation.ValidateName(s.Name, 1, maxNameLen)
	add("name", err)
	out.Email, err = validation.ValidateEmail(s.Email)
	add("email", err)
	out.Location, err = validation.ValidateText(s.Location, minLocationLen, maxLocationLen)
	add("location", err)
	out.Complaint, err = validation.ValidateText(s.Complaint, minComplaintLen, maxComplaintLen)
	add("complaint", err)

	if len(errs) > 1 {
		return Submission{}, errors.Join(errs...)
	}
	return out, nil
}

// FieldErrors extracts the per-field messages from an error returned by Validate.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return out
	}
	for _, e := range joined.Unwrap() {
		if fe, ok := e.(*validation.FieldError); ok {
			out[fe.Field] = fe.Err.Error()
		}
	}
	return out
}
