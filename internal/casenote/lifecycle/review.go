package lifecycle

import (
	"context"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

var reviewActions = map[models.ReviewDecision]audit.Action{
	models.DecisionAccept: audit.ActionReviewAccepted,
	models.DecisionAmend:  audit.ActionReviewAmended,
	models.DecisionReject: audit.ActionReviewRejected,
}

const staleReview = "case note no longer requires review"

// RecordReview applies a reviewer's decision. A note that is not under review
// when its lock is taken fails with CodeStaleState and is left unchanged.
//
// Amending a failed transcription writes the amended text as a manual
// replacement and returns that replacement. Accepting one is a validation
// error since there is no transcription to accept.
func (m *Manager) RecordReview(ctx context.Context, noteID id.CaseNoteID, reviewerID id.UserID, decision models.ReviewDecision, amended string) (note *models.CaseNote, err error) {
	ctx, done := m.start(ctx, "record_review", noteID)
	defer func() { done(&err) }()

	if decision == models.DecisionAmend {
		if err := models.ValidateContent(amended); err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "amended content is required")
		}
	}

	current, err := m.notes.FindByID(ctx, noteID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if decision == models.DecisionAmend && current.State == models.StateTranscriptionFailed {
		return m.amendFailed(ctx, noteID, reviewerID, amended)
	}

	validate := func(n *models.CaseNote) error {
		if err := n.CanReview(); err != nil {
			return staleIf(err, staleReview)
		}
		if decision == models.DecisionReject {
			return nil
		}
		if n.State == models.StateTranscriptionFailed {
			return dErrors.New(dErrors.CodeValidation, "a failed transcription has no content to accept")
		}
		return staleIf(n.CanAcceptOrAmend(), staleReview)
	}

	now := requestcontext.Now(ctx)
	err = m.inTx(ctx, noteID, func(txCtx context.Context) error {
		n, err := m.notes.Execute(txCtx, noteID, validate, func(n *models.CaseNote) {
			switch decision {
			case models.DecisionAccept:
				n.ApplyAccept(reviewerID, now)
			case models.DecisionAmend:
				n.ApplyAmend(reviewerID, amended, now)
			case models.DecisionReject:
				n.ApplyReject(reviewerID, now)
			}
		})
		if err != nil {
			return err
		}
		note = n
		return m.emit(txCtx, n, reviewActions[decision], "")
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	m.metrics.reviewDecision(decision)
	m.metrics.transition(note.State)
	m.logger.InfoContext(ctx, "review decision recorded",
		"case_note_id", note.ID,
		"decision", decision,
		"reviewer_id", reviewerID,
	)
	return note, nil
}

func (m *Manager) amendFailed(ctx context.Context, noteID id.CaseNoteID, reviewerID id.UserID, amended string) (*models.CaseNote, error) {
	now := requestcontext.Now(ctx)
	next, err := m.appendVersion(ctx, noteID, id.UserID{}, amended, audit.ActionReviewAmended,
		func(prev *models.CaseNote) error {
			if err := prev.CanReview(); err != nil {
				return staleIf(err, staleReview)
			}
			if prev.State != models.StateTranscriptionFailed {
				return dErrors.New(dErrors.CodeStaleState, staleReview)
			}
			return nil
		},
		func(prev *models.CaseNote, nextID id.CaseNoteID) {
			prev.ApplyAmendByReplacement(reviewerID, nextID, now)
		},
	)
	if err != nil {
		return nil, err
	}
	m.metrics.reviewDecision(models.DecisionAmend)
	return next, nil
}
