package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/note"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/upload"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/publisher"
	auditmemory "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/store/memory"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

type recordingScheduler struct {
	mu     sync.Mutex
	events []models.IntakeCompleted
	err    error
}

func (r *recordingScheduler) Schedule(_ context.Context, e models.IntakeCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingScheduler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingCanceller struct {
	cancelled []id.FileUploadID
}

func (r *recordingCanceller) Cancel(uploadID id.FileUploadID) bool {
	r.cancelled = append(r.cancelled, uploadID)
	return true
}

type ManagerSuite struct {
	suite.Suite
	manager   *Manager
	notes     *note.InMemoryStore
	uploads   *upload.InMemoryStore
	audit     *auditmemory.InMemoryStore
	scheduler *recordingScheduler
	canceller *recordingCanceller
	ctx       context.Context
	reviewer  id.UserID
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	g, err := gate.New(gate.DefaultThreshold)
	s.Require().NoError(err)
	s.notes = note.NewInMemory()
	s.uploads = upload.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.scheduler = &recordingScheduler{}
	s.canceller = &recordingCanceller{}
	s.manager = New(s.notes, s.uploads, g,
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithScheduler(s.scheduler),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)
	s.manager.SetCanceller(s.canceller)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.reviewer = id.NewUserID()
}

func (s *ManagerSuite) completedUpload() *models.FileUpload {
	now := requestcontext.Now(s.ctx)
	u := models.NewPendingUpload(id.NewFileUploadID(), id.NewUserID(), id.NewPatientID(), "scan.pdf", "application/pdf", 4, now)
	u.ApplyCompleted("uploads/"+u.ID.String(), "sum", now)
	s.Require().NoError(s.uploads.Create(s.ctx, u))
	return u
}

func (s *ManagerSuite) pendingNote() *models.CaseNote {
	n, err := s.manager.CreateScanned(s.ctx, s.completedUpload())
	s.Require().NoError(err)
	s.Require().Equal(models.StatePendingTranscription, n.State)
	return n
}

func (s *ManagerSuite) inReview(score float64) *models.CaseNote {
	n := s.pendingNote()
	got, decision, err := s.manager.ApplyTranscription(s.ctx, n.ID, "txet", score)
	s.Require().NoError(err)
	s.Require().Equal(gate.SendToReview, decision)
	return got
}

func (s *ManagerSuite) failedNote() *models.CaseNote {
	n := s.pendingNote()
	got, err := s.manager.MarkTranscriptionFailed(s.ctx, n.ID, "provider unavailable")
	s.Require().NoError(err)
	return got
}

func (s *ManagerSuite) TestCreateManual() {
	n, err := s.manager.CreateManual(s.ctx, id.NewPatientID(), id.NewUserID(), "BP 120/80")
	s.Require().NoError(err)
	s.Equal(models.StateManual, n.State)
	s.False(n.RequiresReview)
	s.Nil(n.ConfidenceScore)
	s.Contains(s.audit.Actions(), audit.ActionNoteCreated)

	_, err = s.manager.CreateManual(s.ctx, id.NewPatientID(), id.NewUserID(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ManagerSuite) TestCreateScanned() {
	s.Run("schedules transcription", func() {
		u := s.completedUpload()
		n, err := s.manager.CreateScanned(s.ctx, u)
		s.Require().NoError(err)
		s.Equal("scanned/pending/false", n.Triple())
		s.Require().Equal(1, s.scheduler.count())
		s.Equal(n.ID, s.scheduler.events[0].CaseNoteID)
		s.Equal(u.StorageKey, s.scheduler.events[0].StorageKey)
	})

	s.Run("second note for the same upload conflicts", func() {
		u := s.completedUpload()
		_, err := s.manager.CreateScanned(s.ctx, u)
		s.Require().NoError(err)
		_, err = s.manager.CreateScanned(s.ctx, u)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("scheduling failure fails the transcription", func() {
		s.scheduler.err = errors.New("broker down")
		defer func() { s.scheduler.err = nil }()
		n, err := s.manager.CreateScanned(s.ctx, s.completedUpload())
		s.Require().NoError(err)
		s.Equal("scanned/failed/true", n.Triple())
	})

	s.Run("pending upload rejected", func() {
		u := models.NewPendingUpload(id.NewFileUploadID(), id.NewUserID(), id.NewPatientID(), "a.pdf", "application/pdf", 1, time.Now())
		_, err := s.manager.CreateScanned(s.ctx, u)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ManagerSuite) TestApplyTranscription() {
	s.Run("score 0.90 publishes transcribed text", func() {
		n := s.pendingNote()
		got, decision, err := s.manager.ApplyTranscription(s.ctx, n.ID, "Patient stable.", 0.90)
		s.Require().NoError(err)
		s.Equal(gate.AutoPublish, decision)
		s.Equal(models.TranscriptionCompleted, got.TranscriptionStatus)
		s.False(got.RequiresReview)
		s.Equal("Patient stable.", got.Content)
		s.InDelta(0.90, *got.ConfidenceScore, 1e-9)
	})

	s.Run("exactly at threshold publishes", func() {
		n := s.pendingNote()
		got, decision, err := s.manager.ApplyTranscription(s.ctx, n.ID, "text", 0.85)
		s.Require().NoError(err)
		s.Equal(gate.AutoPublish, decision)
		s.Equal(models.StatePublished, got.State)
	})

	s.Run("just below threshold reviews", func() {
		got := s.inReview(0.8499)
		s.Equal("scanned/completed/true", got.Triple())
		s.InDelta(0.8499, *got.ConfidenceScore, 1e-9)
	})

	s.Run("invalid score reviews without score", func() {
		n := s.pendingNote()
		got, decision, err := s.manager.ApplyTranscription(s.ctx, n.ID, "text", 1.7)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidScore))
		s.Equal(gate.SendToReview, decision)
		s.Require().NotNil(got)
		s.Equal("scanned/completed/true", got.Triple())
		s.Nil(got.ConfidenceScore)
		s.True(got.ScoreInvalid)
	})

	s.Run("blank text is not published", func() {
		n := s.pendingNote()
		got, decision, err := s.manager.ApplyTranscription(s.ctx, n.ID, "  ", 0.99)
		s.Require().NoError(err)
		s.Equal(gate.SendToReview, decision)
		s.True(got.RequiresReview)
	})

	s.Run("second outcome is stale", func() {
		n := s.pendingNote()
		_, _, err := s.manager.ApplyTranscription(s.ctx, n.ID, "text", 0.95)
		s.Require().NoError(err)
		_, _, err = s.manager.ApplyTranscription(s.ctx, n.ID, "other", 0.20)
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
		_, err = s.manager.MarkTranscriptionFailed(s.ctx, n.ID, "late")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))

		got, err := s.manager.Get(s.ctx, n.ID)
		s.Require().NoError(err)
		s.Equal("text", got.Content)
	})

	s.Run("unknown note", func() {
		_, _, err := s.manager.ApplyTranscription(s.ctx, id.NewCaseNoteID(), "text", 0.9)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ManagerSuite) TestConcurrentOutcomeAndFailure() {
	for i := 0; i < 50; i++ {
		n := s.pendingNote()
		start := make(chan struct{})
		var wg sync.WaitGroup
		var gateErr, failErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, _, gateErr = s.manager.ApplyTranscription(s.ctx, n.ID, "text", 0.5)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, failErr = s.manager.MarkTranscriptionFailed(s.ctx, n.ID, "timeout")
		}()
		close(start)
		wg.Wait()

		s.True((gateErr == nil) != (failErr == nil), "exactly one transition must win")
		loser := gateErr
		if loser == nil {
			loser = failErr
		}
		s.True(dErrors.HasCode(loser, dErrors.CodeStaleState))

		got, err := s.manager.Get(s.ctx, n.ID)
		s.Require().NoError(err)
		s.NoError(got.Validate())
		s.True(got.RequiresReview)
	}
}

func (s *ManagerSuite) TestRecordReview() {
	s.Run("amend after low score publishes corrected text", func() {
		n := s.inReview(0.40)
		got, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAmend, "corrected text")
		s.Require().NoError(err)
		s.False(got.RequiresReview)
		s.Equal("corrected text", got.Content)
		s.Equal(models.StatePublished, got.State)
		s.Equal(s.reviewer, *got.ReviewedBy)
	})

	s.Run("accept keeps transcription", func() {
		n := s.inReview(0.6)
		got, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAccept, "")
		s.Require().NoError(err)
		s.Equal("txet", got.Content)
		s.Equal(models.StatePublished, got.State)
	})

	s.Run("second decision is stale and changes nothing", func() {
		n := s.inReview(0.6)
		_, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAccept, "")
		s.Require().NoError(err)
		_, err = s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAmend, "changed")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
		got, _ := s.manager.Get(s.ctx, n.ID)
		s.Equal("txet", got.Content)
	})

	s.Run("decision on published note is stale", func() {
		n := s.pendingNote()
		_, _, err := s.manager.ApplyTranscription(s.ctx, n.ID, "text", 0.99)
		s.Require().NoError(err)
		_, err = s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAccept, "")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
	})

	s.Run("amend requires content", func() {
		n := s.inReview(0.6)
		_, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAmend, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		got, _ := s.manager.Get(s.ctx, n.ID)
		s.True(got.RequiresReview)
	})

	s.Run("reject retains note and takes one replacement", func() {
		n := s.inReview(0.3)
		rejected, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionReject, "")
		s.Require().NoError(err)
		s.Equal(models.StateSuperseded, rejected.State)
		s.False(rejected.RequiresReview)
		s.Equal("txet", rejected.Content)

		replacement, err := s.manager.ReplaceRejected(s.ctx, n.ID, n.DoctorID, "hand written")
		s.Require().NoError(err)
		s.Equal(models.StateManual, replacement.State)
		s.Equal(n.ID, *replacement.PreviousVersionID)

		_, err = s.manager.ReplaceRejected(s.ctx, n.ID, n.DoctorID, "again")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
	})

	s.Run("amend of failed transcription writes a manual replacement", func() {
		n := s.failedNote()
		replacement, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAmend, "typed by hand")
		s.Require().NoError(err)
		s.Equal(models.NoteTypeManual, replacement.Type)
		s.Equal("typed by hand", replacement.Content)
		s.Equal(n.DoctorID, replacement.DoctorID)

		old, _ := s.manager.Get(s.ctx, n.ID)
		s.Equal(models.StateSuperseded, old.State)
		s.Equal(models.DecisionAmend, old.ReviewDecision)
		s.Equal(replacement.ID, *old.SupersededBy)
	})

	s.Run("accepting a failed transcription is invalid", func() {
		n := s.failedNote()
		_, err := s.manager.RecordReview(s.ctx, n.ID, s.reviewer, models.DecisionAccept, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ManagerSuite) TestRedispatch() {
	n := s.failedNote()
	before := s.scheduler.count()

	got, err := s.manager.Redispatch(s.ctx, n.ID)
	s.Require().NoError(err)
	s.Equal("scanned/pending/false", got.Triple())
	s.Equal(before+1, s.scheduler.count())

	_, err = s.manager.Redispatch(s.ctx, n.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ManagerSuite) TestVersioning() {
	s.Run("revise manual note", func() {
		v1, err := s.manager.CreateManual(s.ctx, id.NewPatientID(), id.NewUserID(), "v1")
		s.Require().NoError(err)
		later := requestcontext.WithTime(context.Background(), requestcontext.Now(s.ctx).Add(time.Hour))
		v2, err := s.manager.ReviseNote(later, v1.ID, v1.DoctorID, "v2")
		s.Require().NoError(err)
		s.Equal(2, v2.Version)

		history, err := s.manager.History(s.ctx, v1.PatientID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(models.StateSuperseded, history[0].State)
		s.Equal(v2.ID, history[1].ID)
		s.Equal(v2.ID, *history[0].SupersededBy)

		_, err = s.manager.ReviseNote(s.ctx, v1.ID, v1.DoctorID, "v3")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
	})

	s.Run("note under review cannot be revised", func() {
		n := s.inReview(0.2)
		_, err := s.manager.ReviseNote(s.ctx, n.ID, n.DoctorID, "v2")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("override of pending note cancels dispatch", func() {
		n := s.pendingNote()
		replacement, err := s.manager.ManualOverride(s.ctx, n.ID, n.DoctorID, "typed")
		s.Require().NoError(err)
		s.Equal(models.StateManual, replacement.State)
		s.Require().NotEmpty(s.canceller.cancelled)
		s.Equal(*n.FileUploadID, s.canceller.cancelled[len(s.canceller.cancelled)-1])

		prev, err := s.manager.Get(s.ctx, n.ID)
		s.Require().NoError(err)
		s.Equal(models.StateSuperseded, prev.State)
		s.Equal(models.TranscriptionFailed, prev.TranscriptionStatus)
		s.Equal(models.OverrideCancelledReason, prev.FailureReason)

		_, err = s.manager.MarkTranscriptionFailed(s.ctx, n.ID, "dispatch cancelled")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
	})

	s.Run("override of failed note does not cancel", func() {
		n := s.failedNote()
		before := len(s.canceller.cancelled)
		_, err := s.manager.ManualOverride(s.ctx, n.ID, n.DoctorID, "typed")
		s.Require().NoError(err)
		s.Len(s.canceller.cancelled, before)
		s.Contains(s.audit.Actions(), audit.ActionManualOverride)
	})
}

func (s *ManagerSuite) TestListRequiringReview() {
	s.inReview(0.1)
	s.failedNote()
	s.pendingNote()
	pending, err := s.manager.ListRequiringReview(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 2)
}
