package domain

import (
	"github.com/google/uuid"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// Typed identifiers keep patient, user, note and upload IDs from being mixed
// up at compile time. Construct them with the Parse functions at trust
// boundaries; direct conversion from uuid.UUID is for stores and tests.
type (
	UserID       uuid.UUID
	PatientID    uuid.UUID
	CaseNoteID   uuid.UUID
	FileUploadID uuid.UUID
)

func NewUserID() UserID             { return UserID(uuid.New()) }
func NewPatientID() PatientID       { return PatientID(uuid.New()) }
func NewCaseNoteID() CaseNoteID     { return CaseNoteID(uuid.New()) }
func NewFileUploadID() FileUploadID { return FileUploadID(uuid.New()) }

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id PatientID) String() string    { return uuid.UUID(id).String() }
func (id CaseNoteID) String() string   { return uuid.UUID(id).String() }
func (id FileUploadID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CaseNoteID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id FileUploadID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id PatientID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id CaseNoteID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id FileUploadID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PatientID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CaseNoteID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *FileUploadID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// ParseUserID parses a user ID from external input.
// Empty, malformed and nil UUIDs are CodeValidation errors.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParsePatientID(s string) (PatientID, error) {
	u, err := parseUUID(s, "patient ID")
	return PatientID(u), err
}

func ParseCaseNoteID(s string) (CaseNoteID, error) {
	u, err := parseUUID(s, "case note ID")
	return CaseNoteID(u), err
}

func ParseFileUploadID(s string) (FileUploadID, error) {
	u, err := parseUUID(s, "file upload ID")
	return FileUploadID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be nil")
	}
	return u, nil
}
