package models

import (
	"time"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

func (s UploadStatus) IsTerminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// FileUpload is one raw document submission. It is never mutated after
// reaching a terminal status; a retry creates a new FileUpload.
type FileUpload struct {
	ID               id.FileUploadID `json:"id"`
	DoctorID         id.UserID       `json:"doctor_id"`
	PatientID        id.PatientID    `json:"patient_id"`
	OriginalFilename string          `json:"original_filename"`
	StorageKey       string          `json:"storage_key,omitempty"`
	SizeBytes        int64           `json:"size_bytes"`
	MimeType         string          `json:"mime_type"`
	Checksum         string          `json:"checksum,omitempty"`
	Status           UploadStatus    `json:"status"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func NewPendingUpload(uploadID id.FileUploadID, doctorID id.UserID, patientID id.PatientID, filename, mimeType string, size int64, now time.Time) *FileUpload {
	return &FileUpload{
		ID:               uploadID,
		DoctorID:         doctorID,
		PatientID:        patientID,
		OriginalFilename: filename,
		SizeBytes:        size,
		MimeType:         mimeType,
		Status:           UploadPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (u *FileUpload) CanFinish() error {
	if u.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "file upload already "+string(u.Status))
	}
	return nil
}

// ApplyCompleted records durable storage of the bytes.
func (u *FileUpload) ApplyCompleted(storageKey, checksum string, now time.Time) {
	u.StorageKey = storageKey
	u.Checksum = checksum
	u.Status = UploadCompleted
	u.UpdatedAt = now
}

func (u *FileUpload) ApplyFailed(reason string, now time.Time) {
	u.Status = UploadFailed
	u.FailureReason = reason
	u.UpdatedAt = now
}
