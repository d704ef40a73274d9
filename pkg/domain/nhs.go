package domain

import (
	"strings"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// NHSNumber is the national health identifier that keys a patient record.
// Invariant: ten digits whose last digit is the modulus-11 check digit of the
// first nine.
//
// Construct via ParseNHSNumber; direct conversion bypasses the check.
type NHSNumber string

// ParseNHSNumber accepts the usual "943 476 5919" and "943-476-5919" layouts.
func ParseNHSNumber(s string) (NHSNumber, error) {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s))
	if digits == "" {
		return "", dErrors.New(dErrors.CodeValidation, "nhs number cannot be empty")
	}
	if len(digits) != 10 {
		return "", dErrors.New(dErrors.CodeValidation, "nhs number must have 10 digits")
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return "", dErrors.New(dErrors.CodeValidation, "nhs number must be numeric")
		}
		if i < 9 {
			sum += int(c-'0') * (10 - i)
		}
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 || check != int(digits[9]-'0') {
		return "", dErrors.New(dErrors.CodeValidation, "nhs number check digit mismatch")
	}
	return NHSNumber(digits), nil
}

func (n NHSNumber) String() string {
	return string(n)
}

// Formatted renders the number in the 3-3-4 grouping used on clinical letters.
func (n NHSNumber) Formatted() string {
	s := string(n)
	if len(s) != 10 {
		return s
	}
	return s[:3] + " " + s[3:6] + " " + s[6:]
}
