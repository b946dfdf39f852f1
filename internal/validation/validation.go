// Package validation checks user-supplied names, queries and report fields
// before they reach the service layer.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

var (
	// ErrEmpty is returned when input is empty or whitespace-only after trim.
	ErrEmpty = errors.New("is required")
	// ErrTooShort is returned when input length is below the minimum.
	ErrTooShort = errors.New("too short")
	// ErrTooLong is returned when input length exceeds the maximum.
	ErrTooLong = errors.New("too long")
	// ErrInvalidChars is returned when input contains disallowed characters.
	ErrInvalidChars = errors.New("contains invalid characters")
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email address")
)

// FieldError ties a validation error to the field it came from.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s %v", e.Field, e.Err) }

func (e *FieldError) Unwrap() error { return e.Err }

// ValidateName trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters (Unicode), digits, space, comma, hyphen, period and
// apostrophe. Used for city names, state names and place queries.
func ValidateName(input string, minLen, maxLen int) (string, error) {
	s, err := checkLength(input, minLen, maxLen)
	if err != nil {
		return "", err
	}
	for _, c := range s {
		if !isAllowedNameRune(c) {
			return "", ErrInvalidChars
		}
	}
	return s, nil
}

// ValidateText trims free text and enforces length bounds. Control characters
// other than newline and tab are rejected.
func ValidateText(input string, minLen, maxLen int) (string, error) {
	s, err := checkLength(input, minLen, maxLen)
	if err != nil {
		return "", err
	}
	for _, c := range s {
		if unicode.IsControl(c) && c != '\n' && c != '\t' && c != '\r' {
			return "", ErrInvalidChars
		}
	}
	return s, nil
}

// ValidateEmail accepts a bare address (no display name) and returns it trimmed.
// Empty input is ErrEmpty; anything else that fails is ErrInvalidEmail.
func ValidateEmail(input string) (string, error) {
	s, err := checkLength(input, 3, 254)
	if errors.Is(err, ErrEmpty) {
		return "", err
	}
	if err != nil {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", ErrInvalidEmail
	}
	return s, nil
}

func checkLength(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	n := len([]rune(s))
	if n == 0 {
		return "", ErrEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrTooLong
	}
	return s, nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
