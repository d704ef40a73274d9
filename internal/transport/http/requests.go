package httptransport

import (
	"time"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	dirmodels "github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/transcription"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

type createNoteRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Content   string `json:"content" validate:"required,max=100000"`

	patientID id.PatientID
}

func (r *createNoteRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	patientID, err := id.ParsePatientID(r.PatientID)
	if err != nil {
		return err
	}
	r.patientID = patientID
	return nil
}

// contentRequest is the body of revisions, replacements and overrides.
type contentRequest struct {
	Content string `json:"content" validate:"required,max=100000"`
}

func (r *contentRequest) Validate() error {
	return validateStruct(r)
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=accept amend reject"`
	Content  string `json:"content" validate:"required_if=Decision amend,max=100000"`

	decision models.ReviewDecision
}

func (r *decisionRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	d, err := models.ParseReviewDecision(r.Decision)
	if err != nil {
		return err
	}
	r.decision = d
	return nil
}

type registerPatientRequest struct {
	NHSNumber   string `json:"nhs_number" validate:"required"`
	Name        string `json:"name" validate:"required,max=200"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`

	dob time.Time
}

func (r *registerPatientRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	dob, err := time.Parse(dateLayout, r.DateOfBirth)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "date_of_birth must be YYYY-MM-DD")
	}
	r.dob = dob
	return nil
}

// correctPatientRequest only carries the fields that may change.
type correctPatientRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`

	correction dirmodels.PatientCorrection
}

func (r *correctPatientRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	r.correction.Name = r.Name
	if r.DateOfBirth != nil {
		dob, err := time.Parse(dateLayout, *r.DateOfBirth)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "date_of_birth must be YYYY-MM-DD")
		}
		r.correction.DateOfBirth = &dob
	}
	if r.correction.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "correction must change name or date_of_birth")
	}
	return nil
}

type registerUserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,max=200"`
	NHSID string `json:"nhs_id" validate:"required"`
	Role  string `json:"role" validate:"required,oneof=doctor admin"`

	role id.Role
}

func (r *registerUserRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	role, err := id.ParseRole(r.Role)
	if err != nil {
		return err
	}
	r.role = role
	return nil
}

// callbackRequest is a result pushed by the recognition service.
type callbackRequest struct {
	RequestID       string   `json:"request_id" validate:"required,max=200"`
	Status          string   `json:"status" validate:"required,oneof=completed failed"`
	Text            string   `json:"text"`
	ConfidenceScore *float64 `json:"confidence_score" validate:"required_if=Status completed"`
	Error           string   `json:"error"`
}

func (r *callbackRequest) Validate() error {
	return validateStruct(r)
}

func (r *callbackRequest) status() transcription.Status {
	st := transcription.Status{
		State:  transcription.State(r.Status),
		Text:   r.Text,
		Reason: r.Error,
	}
	if r.ConfidenceScore != nil {
		st.Score = *r.ConfidenceScore
	}
	return st
}

// uploadResponse carries the upload and, for scanned documents, the note
// created for it.
type uploadResponse struct {
	FileUpload *models.FileUpload `json:"file_upload"`
	CaseNote   *models.CaseNote   `json:"case_note,omitempty"`
}

// uploadErrorResponse is written when bytes could not be stored. The failed
// upload is returned so the client can reference it.
type uploadErrorResponse struct {
	Error            string             `json:"error"`
	ErrorDescription string             `json:"error_description,omitempty"`
	FileUpload       *models.FileUpload `json:"file_upload,omitempty"`
}

type noteListResponse struct {
	CaseNotes []*models.CaseNote `json:"case_notes"`
	Count     int                `json:"count"`
}

type readinessCheck struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Healthy     bool   `json:"healthy"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

type readinessResponse struct {
	Healthy bool             `json:"healthy"`
	Summary string           `json:"summary"`
	Checks  []readinessCheck `json:"checks"`
}
