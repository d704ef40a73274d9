package audit

import (
	"context"
	"time"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
)

// Category classifies audit events for retention and routing.
type Category string

const (
	// CategoryClinical covers events that change the authoritative clinical
	// record or its review status. These are written fail-closed.
	CategoryClinical Category = "clinical"

	// CategoryOperations covers intake and dispatch bookkeeping.
	CategoryOperations Category = "operations"
)

type Action string

const (
	// Intake
	ActionUploadCompleted Action = "upload_completed"
	ActionUploadFailed    Action = "upload_failed"

	// Lifecycle
	ActionNoteCreated             Action = "case_note_created"
	ActionTranscriptionDispatched Action = "transcription_dispatched"
	ActionNotePublished           Action = "case_note_published"
	ActionNoteSentToReview        Action = "case_note_sent_to_review"
	ActionTranscriptionFailed     Action = "transcription_failed"
	ActionNoteRedispatched        Action = "case_note_redispatched"
	ActionNoteRevised             Action = "case_note_revised"
	ActionNoteSuperseded          Action = "case_note_superseded"
	ActionManualOverride          Action = "case_note_manual_override"

	// Review
	ActionReviewAccepted Action = "review_accepted"
	ActionReviewAmended  Action = "review_amended"
	ActionReviewRejected Action = "review_rejected"

	// Directory
	ActionPatientRegistered Action = "patient_registered"
	ActionPatientCorrected  Action = "patient_corrected"
	ActionUserRegistered    Action = "user_registered"
)

var actionCategories = map[Action]Category{
	ActionNoteCreated:         CategoryClinical,
	ActionNotePublished:       CategoryClinical,
	ActionNoteSentToReview:    CategoryClinical,
	ActionTranscriptionFailed: CategoryClinical,
	ActionNoteRevised:         CategoryClinical,
	ActionNoteSuperseded:      CategoryClinical,
	ActionManualOverride:      CategoryClinical,
	ActionReviewAccepted:      CategoryClinical,
	ActionReviewAmended:       CategoryClinical,
	ActionReviewRejected:      CategoryClinical,
	ActionPatientRegistered:   CategoryClinical,
	ActionPatientCorrected:    CategoryClinical,

	ActionUploadCompleted:         CategoryOperations,
	ActionUploadFailed:            CategoryOperations,
	ActionTranscriptionDispatched: CategoryOperations,
	ActionNoteRedispatched:        CategoryOperations,
	ActionUserRegistered:          CategoryOperations,
}

// Category returns the category for the action. Unknown actions are operations.
func (a Action) Category() Category {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event records one auditable action. Zero-valued IDs mean "not applicable".
type Event struct {
	Action       Action
	Timestamp    time.Time
	CaseNoteID   id.CaseNoteID
	FileUploadID id.FileUploadID
	PatientID    id.PatientID
	ActorID      id.UserID
	RequestID    string
	Device       string
	Detail       string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
