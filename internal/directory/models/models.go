package models

import (
	"net/mail"
	"strings"
	"time"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// Patient is keyed by NHS number. Only Name and DateOfBirth may change after
// registration, and records are never deleted.
type Patient struct {
	ID          id.PatientID `json:"id"`
	NHSNumber   id.NHSNumber `json:"nhs_number"`
	Name        string       `json:"name"`
	DateOfBirth time.Time    `json:"date_of_birth"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func NewPatient(patientID id.PatientID, nhs id.NHSNumber, name string, dob, now time.Time) (*Patient, error) {
	name = strings.TrimSpace(name)
	if err := validatePatientFields(name, dob, now); err != nil {
		return nil, err
	}
	return &Patient{
		ID:          patientID,
		NHSNumber:   nhs,
		Name:        name,
		DateOfBirth: truncateDate(dob),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// PatientCorrection carries the mutable fields. Nil means unchanged.
type PatientCorrection struct {
	Name        *string
	DateOfBirth *time.Time
}

func (c PatientCorrection) IsEmpty() bool {
	return c.Name == nil && c.DateOfBirth == nil
}

func (p *Patient) CanCorrect(c PatientCorrection, now time.Time) error {
	if c.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "correction must change name or date of birth")
	}
	name, dob := p.Name, p.DateOfBirth
	if c.Name != nil {
		name = strings.TrimSpace(*c.Name)
	}
	if c.DateOfBirth != nil {
		dob = *c.DateOfBirth
	}
	return validatePatientFields(name, dob, now)
}

func (p *Patient) ApplyCorrection(c PatientCorrection, now time.Time) {
	if c.Name != nil {
		p.Name = strings.TrimSpace(*c.Name)
	}
	if c.DateOfBirth != nil {
		p.DateOfBirth = truncateDate(*c.DateOfBirth)
	}
	p.UpdatedAt = now
}

func validatePatientFields(name string, dob, now time.Time) error {
	if name == "" {
		return dErrors.New(dErrors.CodeValidation, "patient name is required")
	}
	if dob.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "date of birth is required")
	}
	if dob.After(now) {
		return dErrors.New(dErrors.CodeValidation, "date of birth cannot be in the future")
	}
	return nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// User is a doctor or admin identified by a practitioner identifier.
type User struct {
	ID        id.UserID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	NHSID     string    `json:"nhs_id"`
	Role      id.Role   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUser(userID id.UserID, email, name, nhsID string, role id.Role, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "name is required")
	}
	nhsID = strings.TrimSpace(nhsID)
	if nhsID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "practitioner identifier is required")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "role must be doctor or admin")
	}
	return &User{
		ID:        userID,
		Email:     email,
		Name:      name,
		NHSID:     nhsID,
		Role:      role,
		CreatedAt: now,
	}, nil
}
