package domain

import (
	"strings"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// Role is a clinical staff role. It is fixed for the lifetime of a session.
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleDoctor || r == RoleAdmin
}

// CanReview reports whether the role may read and decide on the review queue.
func (r Role) CanReview() bool {
	return r.IsValid()
}

func (r Role) String() string { return string(r) }

// ParseRole accepts "doctor" or "admin" in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "role must be doctor or admin")
	}
	return r, nil
}
