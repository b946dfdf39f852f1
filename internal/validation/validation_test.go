package validation

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidateName_EmptyAndWhitespace(t *testing.T) {
	for _, in := range []string{"", "   ", "\t"} {
		if _, err := ValidateName(in, 1, 100); !errors.Is(err, ErrEmpty) {
			t.Errorf("ValidateName(%q) error = %v, want ErrEmpty", in, err)
		}
	}
}

func TestValidateName_Bounds(t *testing.T) {
	if _, err := ValidateName("ab", 3, 100); !errors.Is(err, ErrTooShort) {
		t.Errorf("error = %v, want ErrTooShort", err)
	}
	if _, err := ValidateName(strings.Repeat("a", 101), 1, 100); !errors.Is(err, ErrTooLong) {
		t.Errorf("error = %v, want ErrTooLong", err)
	}
	// Bounds count runes, not bytes.
	if _, err := ValidateName("दिल्ली", 1, 6); err != nil {
		t.Errorf("Devanagari name rejected: %v", err)
	}
}

func TestValidateName_Valid(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Delhi", "Delhi"},
		{"  New Delhi ", "New Delhi"},
		{"Thiruvananthapuram", "Thiruvananthapuram"},
		{"St. Mary's, Udupi", "St. Mary's, Udupi"},
		{"Sector-62 Noida", "Sector-62 Noida"},
		{"बेंगलुरु", "बेंगलुरु"},
	}
	for _, tt := range tests {
		got, err := ValidateName(tt.in, 1, 100)
		if err != nil {
			t.Errorf("ValidateName(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateName_InvalidChars(t *testing.T) {
	for _, in := range []string{"Delhi;DROP", "<script>", "Pune/Mumbai", "a\x00b"} {
		if _, err := ValidateName(in, 1, 100); !errors.Is(err, ErrInvalidChars) {
			t.Errorf("ValidateName(%q) error = %v, want ErrInvalidChars", in, err)
		}
	}
}

func TestValidateText(t *testing.T) {
	got, err := ValidateText("  Burning garbage\nnear the market  ", 10, 2000)
	if err != nil || got != "Burning garbage\nnear the market" {
		t.Errorf("ValidateText() = %q, %v", got, err)
	}
	if _, err := ValidateText("smoke", 10, 2000); !errors.Is(err, ErrTooShort) {
		t.Errorf("error = %v, want ErrTooShort", err)
	}
	if _, err := ValidateText("bad \x07 bell char here", 1, 100); !errors.Is(err, ErrInvalidChars) {
		t.Errorf("error = %v, want ErrInvalidChars", err)
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"asha@example.in", " ravi.k+aqi@mail.example.com "}
	for _, in := range valid {
		if _, err := ValidateEmail(in); err != nil {
			t.Errorf("ValidateEmail(%q) error = %v", in, err)
		}
	}
	invalid := []string{"not-an-email", "Asha <asha@example.in>", "a@", "@", "@example.in",
		strings.Repeat("a", 250) + "@example.in"}
	for _, in := range invalid {
		if _, err := ValidateEmail(in); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("ValidateEmail(%q) error = %v, want ErrInvalidEmail", in, err)
		}
	}
	if _, err := ValidateEmail("   "); !errors.Is(err, ErrEmpty) {
		t.Errorf("ValidateEmail(blank) error = %v, want ErrEmpty", err)
	}
}

func TestFieldError(t *testing.T) {
	err := fmt.Errorf("report: %w", &FieldError{Field: "email", Err: ErrInvalidEmail})
	if !errors.Is(err, ErrInvalidEmail) {
		t.Error("FieldError should unwrap to its cause")
	}
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "email" {
		t.Errorf("errors.As = %v", fe)
	}
	if fe.Error() != "email invalid email address" {
		t.Errorf("Error() = %q", fe.Error())
	}
}
