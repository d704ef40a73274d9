package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// CreateScanned creates the pending note for a completed upload and schedules
// its transcription. A scheduling failure is recorded on the note as a failed
// transcription rather than returned, so the note never waits indefinitely.
func (m *Manager) CreateScanned(ctx context.Context, upload *models.FileUpload) (note *models.CaseNote, err error) {
	if upload.Status != models.UploadCompleted {
		return nil, dErrors.New(dErrors.CodeValidation, "file upload is not completed")
	}
	now := requestcontext.Now(ctx)
	n := models.NewScannedNote(id.NewCaseNoteID(), upload.PatientID, upload.DoctorID, upload.ID, now)

	ctx, done := m.start(ctx, "create_scanned", n.ID)
	defer func() { done(&err) }()

	err = m.inTx(ctx, n.ID, func(txCtx context.Context) error {
		if err := m.notes.Create(txCtx, n); err != nil {
			return err
		}
		return m.emit(txCtx, n, audit.ActionNoteCreated, string(models.NoteTypeScanned))
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.metrics.transition(n.State)
	return m.schedule(ctx, upload, n), nil
}

func (m *Manager) schedule(ctx context.Context, upload *models.FileUpload, n *models.CaseNote) *models.CaseNote {
	reason := ""
	if m.scheduler == nil {
		reason = "no transcription dispatcher configured"
	} else if err := m.scheduler.Schedule(ctx, models.IntakeCompletedFor(upload, n.ID, requestcontext.Now(ctx))); err != nil {
		m.logger.ErrorContext(ctx, "failed to schedule transcription",
			"case_note_id", n.ID,
			"file_upload_id", upload.ID,
			"error", err,
		)
		reason = "transcription could not be scheduled"
	}
	if reason == "" {
		if err := m.emit(ctx, n, audit.ActionTranscriptionDispatched, ""); err != nil {
			m.logger.WarnContext(ctx, "dispatch audit failed", "case_note_id", n.ID, "error", err)
		}
		return n
	}
	failed, err := m.MarkTranscriptionFailed(ctx, n.ID, reason)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record scheduling failure", "case_note_id", n.ID, "error", err)
		return n
	}
	return failed
}

// ApplyTranscription runs the confidence gate on a transcription result and
// applies its decision. An out-of-range score sends the note to review with
// no recorded score and returns CodeInvalidScore alongside the updated note.
// Blank text is never published automatically.
func (m *Manager) ApplyTranscription(ctx context.Context, noteID id.CaseNoteID, text string, score float64) (note *models.CaseNote, decision gate.Decision, err error) {
	ctx, done := m.start(ctx, "apply_transcription", noteID)
	defer func() { done(&err) }()

	decision, scoreErr := m.gate.Decide(score)
	var recorded *float64
	if scoreErr == nil {
		s := score
		recorded = &s
	}
	if decision == gate.AutoPublish && strings.TrimSpace(text) == "" {
		decision = gate.SendToReview
	}

	now := requestcontext.Now(ctx)
	err = m.inTx(ctx, noteID, func(txCtx context.Context) error {
		n, err := m.notes.Execute(txCtx, noteID,
			func(n *models.CaseNote) error {
				return staleIf(n.CanApplyTranscription(), "case note is no longer awaiting transcription")
			},
			func(n *models.CaseNote) {
				if decision == gate.AutoPublish {
					n.ApplyPublished(text, score, now)
				} else {
					n.ApplySentToReview(text, recorded, now)
				}
			},
		)
		if err != nil {
			return err
		}
		action, detail := audit.ActionNotePublished, fmt.Sprintf("score=%.4f", score)
		if decision == gate.SendToReview {
			action = audit.ActionNoteSentToReview
		}
		if scoreErr != nil {
			detail = "invalid score"
		}
		note = n
		return m.emit(txCtx, n, action, detail)
	})
	if err != nil {
		return nil, decision, mapStoreErr(err)
	}

	m.metrics.gateDecision(decision)
	m.metrics.transition(note.State)
	m.logger.InfoContext(ctx, "transcription applied",
		"case_note_id", note.ID,
		"decision", decision,
		"state", note.State,
	)
	if scoreErr != nil {
		return note, decision, scoreErr
	}
	return note, decision, nil
}

// MarkTranscriptionFailed records a terminal dispatch failure. The note always
// ends under review.
func (m *Manager) MarkTranscriptionFailed(ctx context.Context, noteID id.CaseNoteID, reason string) (note *models.CaseNote, err error) {
	ctx, done := m.start(ctx, "mark_failed", noteID)
	defer func() { done(&err) }()

	now := requestcontext.Now(ctx)
	err = m.inTx(ctx, noteID, func(txCtx context.Context) error {
		n, err := m.notes.Execute(txCtx, noteID,
			func(n *models.CaseNote) error {
				return staleIf(n.CanFailTranscription(), "case note is no longer awaiting transcription")
			},
			func(n *models.CaseNote) { n.ApplyTranscriptionFailure(reason, now) },
		)
		if err != nil {
			return err
		}
		note = n
		return m.emit(txCtx, n, audit.ActionTranscriptionFailed, reason)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.metrics.transition(note.State)
	m.logger.WarnContext(ctx, "transcription failed",
		"case_note_id", note.ID,
		"reason", reason,
	)
	return note, nil
}

// Redispatch returns a failed note to pending and schedules a new attempt.
func (m *Manager) Redispatch(ctx context.Context, noteID id.CaseNoteID) (note *models.CaseNote, err error) {
	ctx, done := m.start(ctx, "redispatch", noteID)
	defer func() { done(&err) }()

	now := requestcontext.Now(ctx)
	err = m.inTx(ctx, noteID, func(txCtx context.Context) error {
		n, err := m.notes.Execute(txCtx, noteID,
			func(n *models.CaseNote) error {
				if err := n.CanRedispatch(); err != nil {
					if n.State == models.StateSuperseded {
						return staleIf(err, "case note has been superseded")
					}
					return dErrors.New(dErrors.CodeValidation, "only failed transcriptions can be redispatched")
				}
				return nil
			},
			func(n *models.CaseNote) { n.ApplyRedispatch(now) },
		)
		if err != nil {
			return err
		}
		note = n
		return m.emit(txCtx, n, audit.ActionNoteRedispatched, "")
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.metrics.transition(note.State)

	upload, err := m.uploads.FindByID(ctx, *note.FileUploadID)
	if err != nil {
		failed, ferr := m.MarkTranscriptionFailed(ctx, note.ID, "originating upload could not be loaded")
		if ferr != nil {
			return nil, mapStoreErr(err)
		}
		return failed, nil
	}
	return m.schedule(ctx, upload, note), nil
}
