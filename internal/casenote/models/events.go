package models

import (
	"time"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
)

// IntakeCompleted announces a stored scanned document whose note is waiting
// for transcription. It is the dispatcher's unit of work.
type IntakeCompleted struct {
	FileUploadID id.FileUploadID `json:"file_upload_id"`
	CaseNoteID   id.CaseNoteID   `json:"case_note_id"`
	PatientID    id.PatientID    `json:"patient_id"`
	DoctorID     id.UserID       `json:"doctor_id"`
	StorageKey   string          `json:"storage_key"`
	MimeType     string          `json:"mime_type"`
	SizeBytes    int64           `json:"size_bytes"`
	Checksum     string          `json:"checksum"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// IntakeCompletedFor builds the event for a completed upload and its note.
func IntakeCompletedFor(u *FileUpload, noteID id.CaseNoteID, now time.Time) IntakeCompleted {
	return IntakeCompleted{
		FileUploadID: u.ID,
		CaseNoteID:   noteID,
		PatientID:    u.PatientID,
		DoctorID:     u.DoctorID,
		StorageKey:   u.StorageKey,
		MimeType:     u.MimeType,
		SizeBytes:    u.SizeBytes,
		Checksum:     u.Checksum,
		OccurredAt:   now,
	}
}
