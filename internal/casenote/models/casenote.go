package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

type NoteType string

const (
	NoteTypeManual  NoteType = "manual"
	NoteTypeScanned NoteType = "scanned"
)

func ParseNoteType(s string) (NoteType, error) {
	switch t := NoteType(strings.ToLower(strings.TrimSpace(s))); t {
	case NoteTypeManual, NoteTypeScanned:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "note type must be manual or scanned")
	}
}

type TranscriptionStatus string

const (
	TranscriptionPending   TranscriptionStatus = "pending"
	TranscriptionCompleted TranscriptionStatus = "completed"
	TranscriptionFailed    TranscriptionStatus = "failed"
)

// State is the explicit lifecycle state. Each state fixes the
// (type, transcription status, requires review) triple, see Validate.
type State string

const (
	// StateManual is manual/completed/false. Terminal; edits create a new version.
	StateManual State = "manual"
	// StatePendingTranscription is scanned/pending/false.
	StatePendingTranscription State = "pending_transcription"
	// StatePublished is scanned/completed/false. Terminal.
	StatePublished State = "published"
	// StateInReview is scanned/completed/true.
	StateInReview State = "in_review"
	// StateTranscriptionFailed is scanned/failed/true.
	StateTranscriptionFailed State = "transcription_failed"
	// StateSuperseded is terminal and keeps the fields of the state it left,
	// with requires review cleared.
	StateSuperseded State = "superseded"
)

var allowedTransitions = map[State][]State{
	StateManual:               {StateSuperseded},
	StatePendingTranscription: {StatePublished, StateInReview, StateTranscriptionFailed, StateSuperseded},
	StatePublished:            {StateSuperseded},
	StateInReview:             {StatePublished, StateSuperseded},
	StateTranscriptionFailed:  {StatePendingTranscription, StateSuperseded},
	StateSuperseded:           {},
}

func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsClinicallyAuthoritative is false while content is provisional.
func (s State) IsClinicallyAuthoritative() bool {
	return s == StateManual || s == StatePublished
}

// CaseNote is the clinical record aggregate.
//
// Invariants:
//   - manual notes are always transcription completed, unscored and never under review
//   - a scanned note carries a confidence score only while its transcription is
//     completed; ScoreInvalid marks a completed transcription whose provider score
//     was out of range and was therefore not recorded
//   - RequiresReview is set only by the gate or a transcription failure and
//     cleared only by a review decision or supersession
//   - notes are never deleted; corrections append a new version
type CaseNote struct {
	ID                  id.CaseNoteID       `json:"id"`
	PatientID           id.PatientID        `json:"patient_id"`
	DoctorID            id.UserID           `json:"doctor_id"`
	Content             string              `json:"content"`
	Type                NoteType            `json:"type"`
	FileUploadID        *id.FileUploadID    `json:"file_upload_id,omitempty"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
	ConfidenceScore     *float64            `json:"confidence_score,omitempty"`
	ScoreInvalid        bool                `json:"score_invalid,omitempty"`
	RequiresReview      bool                `json:"requires_review"`
	State               State               `json:"state"`
	Version             int                 `json:"version"`
	PreviousVersionID   *id.CaseNoteID      `json:"previous_version_id,omitempty"`
	SupersededBy        *id.CaseNoteID      `json:"superseded_by,omitempty"`
	ReviewedBy          *id.UserID          `json:"reviewed_by,omitempty"`
	ReviewDecision      ReviewDecision      `json:"review_decision,omitempty"`
	FailureReason       string              `json:"failure_reason,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// MaxContentLength bounds note text.
const MaxContentLength = 100_000

// ValidateContent checks note text supplied by a clinician.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return dErrors.New(dErrors.CodeValidation, "content is required")
	}
	if len(content) > MaxContentLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("content must be at most %d bytes", MaxContentLength))
	}
	return nil
}

// NewManualNote creates a doctor-authored note in its terminal manual state.
func NewManualNote(noteID id.CaseNoteID, patientID id.PatientID, doctorID id.UserID, content string, now time.Time) (*CaseNote, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	return &CaseNote{
		ID:                  noteID,
		PatientID:           patientID,
		DoctorID:            doctorID,
		Content:             content,
		Type:                NoteTypeManual,
		TranscriptionStatus: TranscriptionCompleted,
		State:               StateManual,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// NewScannedNote creates an empty note awaiting transcription of uploadID.
func NewScannedNote(noteID id.CaseNoteID, patientID id.PatientID, doctorID id.UserID, uploadID id.FileUploadID, now time.Time) *CaseNote {
	return &CaseNote{
		ID:                  noteID,
		PatientID:           patientID,
		DoctorID:            doctorID,
		Type:                NoteTypeScanned,
		FileUploadID:        &uploadID,
		TranscriptionStatus: TranscriptionPending,
		State:               StatePendingTranscription,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NewVersion creates the manual note that replaces prev.
func NewVersion(prev *CaseNote, noteID id.CaseNoteID, doctorID id.UserID, content string, now time.Time) (*CaseNote, error) {
	next, err := NewManualNote(noteID, prev.PatientID, doctorID, content, now)
	if err != nil {
		return nil, err
	}
	prevID := prev.ID
	next.Version = prev.Version + 1
	next.PreviousVersionID = &prevID
	return next, nil
}

// Triple renders the (type, status, review) triple, e.g. "scanned/pending/false".
func (n *CaseNote) Triple() string {
	return fmt.Sprintf("%s/%s/%t", n.Type, n.TranscriptionStatus, n.RequiresReview)
}

func (n *CaseNote) transitionErr(target State) error {
	return dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("case note in state %s cannot move to %s", n.State, target))
}

// -----------------------------------------------------------------------------
// Transcription outcome
// -----------------------------------------------------------------------------

// CanApplyTranscription checks the note is still waiting for a result.
func (n *CaseNote) CanApplyTranscription() error {
	if n.State != StatePendingTranscription {
		return n.transitionErr(StatePublished)
	}
	return nil
}

// ApplyPublished records an auto-published transcription.
func (n *CaseNote) ApplyPublished(text string, score float64, now time.Time) {
	n.Content = text
	n.TranscriptionStatus = TranscriptionCompleted
	n.ConfidenceScore = &score
	n.ScoreInvalid = false
	n.RequiresReview = false
	n.State = StatePublished
	n.UpdatedAt = now
}

// ApplySentToReview records a transcription that needs human sign-off. A nil
// score means the provider's score was out of range.
func (n *CaseNote) ApplySentToReview(text string, score *float64, now time.Time) {
	n.Content = text
	n.TranscriptionStatus = TranscriptionCompleted
	n.ConfidenceScore = score
	n.ScoreInvalid = score == nil
	n.RequiresReview = true
	n.State = StateInReview
	n.UpdatedAt = now
}

// CanFailTranscription checks the note is still waiting for a result.
func (n *CaseNote) CanFailTranscription() error {
	if n.State != StatePendingTranscription {
		return n.transitionErr(StateTranscriptionFailed)
	}
	return nil
}

// ApplyTranscriptionFailure routes a failed transcription to review.
func (n *CaseNote) ApplyTranscriptionFailure(reason string, now time.Time) {
	n.TranscriptionStatus = TranscriptionFailed
	n.ConfidenceScore = nil
	n.ScoreInvalid = false
	n.RequiresReview = true
	n.FailureReason = reason
	n.State = StateTranscriptionFailed
	n.UpdatedAt = now
}

func (n *CaseNote) CanRedispatch() error {
	if n.State != StateTranscriptionFailed {
		return n.transitionErr(StatePendingTranscription)
	}
	return nil
}

// ApplyRedispatch returns a failed note to pending for a new attempt.
func (n *CaseNote) ApplyRedispatch(now time.Time) {
	n.TranscriptionStatus = TranscriptionPending
	n.RequiresReview = false
	n.FailureReason = ""
	n.State = StatePendingTranscription
	n.UpdatedAt = now
}

// -----------------------------------------------------------------------------
// Review
// -----------------------------------------------------------------------------

// CanReview checks the note is awaiting a review decision.
func (n *CaseNote) CanReview() error {
	if !n.RequiresReview {
		return dErrors.New(dErrors.CodeInvariantViolation, "case note does not require review")
	}
	return nil
}

// CanAcceptOrAmend checks there is a transcription to sign off.
func (n *CaseNote) CanAcceptOrAmend() error {
	if err := n.CanReview(); err != nil {
		return err
	}
	if n.State != StateInReview {
		return n.transitionErr(StatePublished)
	}
	return nil
}

func (n *CaseNote) ApplyAccept(reviewer id.UserID, now time.Time) {
	n.applyDecision(reviewer, DecisionAccept, now)
	n.State = StatePublished
}

func (n *CaseNote) ApplyAmend(reviewer id.UserID, content string, now time.Time) {
	n.applyDecision(reviewer, DecisionAmend, now)
	n.Content = content
	n.State = StatePublished
}

// ApplyReject marks the note superseded. The replacement is linked later
// through ApplySupersededBy.
func (n *CaseNote) ApplyReject(reviewer id.UserID, now time.Time) {
	n.applyDecision(reviewer, DecisionReject, now)
	n.State = StateSuperseded
}

// ApplyAmendByReplacement records an amend decision on a failed transcription
// whose corrected text lives in the replacement note next.
func (n *CaseNote) ApplyAmendByReplacement(reviewer id.UserID, next id.CaseNoteID, now time.Time) {
	n.applyDecision(reviewer, DecisionAmend, now)
	n.ApplySupersededBy(next, now)
}

func (n *CaseNote) applyDecision(reviewer id.UserID, d ReviewDecision, now time.Time) {
	r := reviewer
	n.ReviewedBy = &r
	n.ReviewDecision = d
	n.RequiresReview = false
	n.UpdatedAt = now
}

// -----------------------------------------------------------------------------
// Versioning
// -----------------------------------------------------------------------------

// CanRevise checks the note is an authoritative version that may be corrected.
func (n *CaseNote) CanRevise() error {
	if n.State != StateManual && n.State != StatePublished {
		return n.transitionErr(StateSuperseded)
	}
	return nil
}

// CanOverride checks a scanned note may be replaced by a hand-written version:
// its transcription failed, or it is still pending and the dispatch is
// cancelled by the override.
func (n *CaseNote) CanOverride() error {
	if n.State != StateTranscriptionFailed && n.State != StatePendingTranscription {
		return n.transitionErr(StateSuperseded)
	}
	return nil
}

// AwaitingReplacement reports a rejected note whose replacement has not been written.
func (n *CaseNote) AwaitingReplacement() bool {
	return n.State == StateSuperseded && n.ReviewDecision == DecisionReject && n.SupersededBy == nil
}

func (n *CaseNote) CanLinkReplacement() error {
	if !n.AwaitingReplacement() {
		return dErrors.New(dErrors.CodeInvariantViolation, "case note is not awaiting a replacement")
	}
	return nil
}

// OverrideCancelledReason records why a pending transcription was closed out
// by a manual override.
const OverrideCancelledReason = "dispatch cancelled by manual override"

// ApplyOverride supersedes the note with a hand-written replacement. A still
// pending transcription is closed out as failed since its dispatch is cancelled.
func (n *CaseNote) ApplyOverride(next id.CaseNoteID, now time.Time) {
	if n.State == StatePendingTranscription {
		n.TranscriptionStatus = TranscriptionFailed
		n.FailureReason = OverrideCancelledReason
	}
	n.ApplySupersededBy(next, now)
}

// ApplySupersededBy marks the note superseded by next. Type and transcription
// fields are left as they were.
func (n *CaseNote) ApplySupersededBy(next id.CaseNoteID, now time.Time) {
	by := next
	n.SupersededBy = &by
	n.RequiresReview = false
	n.State = StateSuperseded
	n.UpdatedAt = now
}

// -----------------------------------------------------------------------------
// Structural validation
// -----------------------------------------------------------------------------

// Validate rejects any field combination the state does not permit. Stores
// call it after every mutation so an illegal note is never persisted.
func (n *CaseNote) Validate() error {
	bad := func(msg string) error {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("case note %s (%s, state %s): %s", n.ID, n.Triple(), n.State, msg))
	}
	if n.ConfidenceScore != nil {
		if s := *n.ConfidenceScore; math.IsNaN(s) || s < 0 || s > 1 {
			return bad("confidence score outside [0,1]")
		}
	}
	if n.ConfidenceScore != nil && n.ScoreInvalid {
		return bad("score cannot be both recorded and invalid")
	}
	scored := n.ConfidenceScore != nil || n.ScoreInvalid

	switch n.Type {
	case NoteTypeManual:
		if n.TranscriptionStatus != TranscriptionCompleted || scored || n.RequiresReview {
			return bad("manual notes must be completed, unscored and not under review")
		}
		if n.State != StateManual && n.State != StateSuperseded {
			return bad("manual notes are either manual or superseded")
		}
		if n.FileUploadID != nil {
			return bad("manual notes have no originating file")
		}
		return nil
	case NoteTypeScanned:
		if n.FileUploadID == nil {
			return bad("scanned notes reference their originating file")
		}
		if scored != (n.TranscriptionStatus == TranscriptionCompleted) {
			return bad("score is present if and only if transcription completed")
		}
	default:
		return bad("unknown note type")
	}

	want := map[State]struct {
		status TranscriptionStatus
		review bool
	}{
		StatePendingTranscription: {TranscriptionPending, false},
		StatePublished:            {TranscriptionCompleted, false},
		StateInReview:             {TranscriptionCompleted, true},
		StateTranscriptionFailed:  {TranscriptionFailed, true},
	}
	if n.State == StateSuperseded {
		if n.RequiresReview {
			return bad("superseded notes are never under review")
		}
		return nil
	}
	w, ok := want[n.State]
	if !ok {
		return bad("state not valid for scanned notes")
	}
	if n.TranscriptionStatus != w.status || n.RequiresReview != w.review {
		return bad("fields do not match state")
	}
	return nil
}
