package lifecycle

import (
	"context"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// CreateManual stores a doctor-authored note. It is terminal on creation.
func (m *Manager) CreateManual(ctx context.Context, patientID id.PatientID, doctorID id.UserID, content string) (note *models.CaseNote, err error) {
	n, err := models.NewManualNote(id.NewCaseNoteID(), patientID, doctorID, content, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	ctx, done := m.start(ctx, "create_manual", n.ID)
	defer func() { done(&err) }()

	if m.directory != nil {
		if _, err := m.directory.RequireDoctor(ctx, doctorID); err != nil {
			return nil, err
		}
		if _, err := m.directory.RequirePatient(ctx, patientID); err != nil {
			return nil, err
		}
	}

	err = m.inTx(ctx, n.ID, func(txCtx context.Context) error {
		if err := m.notes.Create(txCtx, n); err != nil {
			return err
		}
		return m.emit(txCtx, n, audit.ActionNoteCreated, string(models.NoteTypeManual))
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.metrics.transition(n.State)
	return n, nil
}

// ReviseNote corrects an authoritative note by appending a manual version and
// superseding the old one in the same write.
func (m *Manager) ReviseNote(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (note *models.CaseNote, err error) {
	ctx, done := m.start(ctx, "revise", noteID)
	defer func() { done(&err) }()

	return m.appendVersion(ctx, noteID, doctorID, content, audit.ActionNoteRevised,
		func(prev *models.CaseNote) error {
			if err := prev.CanRevise(); err != nil {
				if prev.State == models.StateSuperseded {
					return staleIf(err, "case note has already been superseded")
				}
				return dErrors.New(dErrors.CodeValidation, "only manual or published notes can be revised")
			}
			return nil
		},
		nil,
	)
}

// ManualOverride replaces a scanned note whose transcription failed, or is
// still pending, with hand-written content. A pending dispatch is cancelled
// once the replacement is stored; its late outcome is then stale.
func (m *Manager) ManualOverride(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (note *models.CaseNote, err error) {
	ctx, done := m.start(ctx, "manual_override", noteID)
	defer func() { done(&err) }()

	now := requestcontext.Now(ctx)
	var pendingUpload *id.FileUploadID
	note, err = m.appendVersion(ctx, noteID, doctorID, content, audit.ActionManualOverride,
		func(prev *models.CaseNote) error {
			if err := prev.CanOverride(); err != nil {
				if prev.State == models.StateSuperseded {
					return staleIf(err, "case note has already been superseded")
				}
				return dErrors.New(dErrors.CodeValidation, "only failed or pending transcriptions can be overridden")
			}
			pendingUpload = nil
			if prev.State == models.StatePendingTranscription {
				pendingUpload = prev.FileUploadID
			}
			return nil
		},
		func(prev *models.CaseNote, nextID id.CaseNoteID) { prev.ApplyOverride(nextID, now) },
	)
	if err != nil {
		return nil, err
	}
	if pendingUpload != nil && m.canceller != nil {
		m.canceller.Cancel(*pendingUpload)
	}
	return note, nil
}

// ReplaceRejected writes the manual note that replaces a rejected transcription.
func (m *Manager) ReplaceRejected(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (note *models.CaseNote, err error) {
	ctx, done := m.start(ctx, "replace_rejected", noteID)
	defer func() { done(&err) }()

	return m.appendVersion(ctx, noteID, doctorID, content, audit.ActionNoteRevised,
		func(prev *models.CaseNote) error {
			if err := prev.CanLinkReplacement(); err != nil {
				if prev.State == models.StateSuperseded && prev.SupersededBy != nil {
					return staleIf(err, "rejected note already has a replacement")
				}
				return dErrors.New(dErrors.CodeValidation, "only rejected notes take a replacement")
			}
			return nil
		},
		nil,
	)
}

// appendVersion writes a manual version of noteID. mutate, when set, replaces
// the default ApplySupersededBy on the previous version.
func (m *Manager) appendVersion(
	ctx context.Context,
	noteID id.CaseNoteID,
	doctorID id.UserID,
	content string,
	action audit.Action,
	validate func(*models.CaseNote) error,
	mutate func(prev *models.CaseNote, next id.CaseNoteID),
) (*models.CaseNote, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}
	if m.directory != nil && !doctorID.IsNil() {
		if _, err := m.directory.RequireDoctor(ctx, doctorID); err != nil {
			return nil, err
		}
	}
	prev, err := m.notes.FindByID(ctx, noteID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if doctorID.IsNil() {
		doctorID = prev.DoctorID
	}
	now := requestcontext.Now(ctx)
	next, err := models.NewVersion(prev, id.NewCaseNoteID(), doctorID, content, now)
	if err != nil {
		return nil, err
	}
	if mutate == nil {
		mutate = func(p *models.CaseNote, nextID id.CaseNoteID) { p.ApplySupersededBy(nextID, now) }
	}

	err = m.inTx(ctx, noteID, func(txCtx context.Context) error {
		old, err := m.notes.AppendVersion(txCtx, noteID, validate,
			func(p *models.CaseNote) { mutate(p, next.ID) }, next)
		if err != nil {
			return err
		}
		if err := m.emit(txCtx, next, action, "previous="+old.ID.String()); err != nil {
			return err
		}
		return m.emit(txCtx, old, audit.ActionNoteSuperseded, "superseded_by="+next.ID.String())
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.metrics.transition(models.StateSuperseded)
	m.metrics.transition(next.State)
	m.logger.InfoContext(ctx, "case note version appended",
		"case_note_id", next.ID,
		"previous_version_id", noteID,
		"version", next.Version,
	)
	return next, nil
}
