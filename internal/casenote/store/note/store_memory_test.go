package note

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) scanned() *models.CaseNote {
	n := models.NewScannedNote(id.NewCaseNoteID(), id.NewPatientID(), id.NewUserID(), id.NewFileUploadID(), s.now)
	s.Require().NoError(s.store.Create(s.ctx, n))
	return n
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	s.Run("round trips by id and upload", func() {
		n := s.scanned()
		got, err := s.store.FindByID(s.ctx, n.ID)
		s.Require().NoError(err)
		s.Equal(n.ID, got.ID)

		byUpload, err := s.store.FindByFileUpload(s.ctx, *n.FileUploadID)
		s.Require().NoError(err)
		s.Equal(n.ID, byUpload.ID)
	})

	s.Run("one note per upload", func() {
		n := s.scanned()
		dup := models.NewScannedNote(id.NewCaseNoteID(), n.PatientID, n.DoctorID, *n.FileUploadID, s.now)
		s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)
	})

	s.Run("missing note", func() {
		_, err := s.store.FindByID(s.ctx, id.NewCaseNoteID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("invalid note is not stored", func() {
		n := models.NewScannedNote(id.NewCaseNoteID(), id.NewPatientID(), id.NewUserID(), id.NewFileUploadID(), s.now)
		n.RequiresReview = true
		s.True(dErrors.HasCode(s.store.Create(s.ctx, n), dErrors.CodeInvariantViolation))
		_, err := s.store.FindByID(s.ctx, n.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned notes are copies", func() {
		n := s.scanned()
		got, err := s.store.FindByID(s.ctx, n.ID)
		s.Require().NoError(err)
		got.Content = "tampered"
		again, err := s.store.FindByID(s.ctx, n.ID)
		s.Require().NoError(err)
		s.Empty(again.Content)
	})
}

func (s *InMemoryStoreSuite) TestExecute() {
	s.Run("applies mutation after validate", func() {
		n := s.scanned()
		got, err := s.store.Execute(s.ctx, n.ID, (*models.CaseNote).CanApplyTranscription, func(c *models.CaseNote) {
			c.ApplyPublished("text", 0.9, s.now)
		})
		s.Require().NoError(err)
		s.Equal(models.StatePublished, got.State)
	})

	s.Run("validate error leaves note untouched", func() {
		n := s.scanned()
		_, err := s.store.Execute(s.ctx, n.ID, (*models.CaseNote).CanRedispatch, func(c *models.CaseNote) {
			c.ApplyRedispatch(s.now)
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		got, _ := s.store.FindByID(s.ctx, n.ID)
		s.Equal(models.StatePendingTranscription, got.State)
	})

	s.Run("illegal mutation is rejected", func() {
		n := s.scanned()
		_, err := s.store.Execute(s.ctx, n.ID, func(*models.CaseNote) error { return nil }, func(c *models.CaseNote) {
			score := 0.5
			c.ConfidenceScore = &score
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		got, _ := s.store.FindByID(s.ctx, n.ID)
		s.Nil(got.ConfidenceScore)
	})

	s.Run("concurrent outcomes apply exactly once", func() {
		n := s.scanned()
		const goroutines = 20
		var wg sync.WaitGroup
		var applied atomic.Int32
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mutate := func(c *models.CaseNote) { c.ApplyTranscriptionFailure("boom", s.now) }
				if i%2 == 0 {
					mutate = func(c *models.CaseNote) { c.ApplyPublished("text", 0.9, s.now) }
				}
				if _, err := s.store.Execute(s.ctx, n.ID, (*models.CaseNote).CanApplyTranscription, mutate); err == nil {
					applied.Add(1)
				}
			}(i)
		}
		wg.Wait()
		s.Equal(int32(1), applied.Load())
	})
}

func (s *InMemoryStoreSuite) TestAppendVersion() {
	s.Run("supersedes and inserts together", func() {
		prev, err := models.NewManualNote(id.NewCaseNoteID(), id.NewPatientID(), id.NewUserID(), "v1", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Create(s.ctx, prev))

		next, err := models.NewVersion(prev, id.NewCaseNoteID(), prev.DoctorID, "v2", s.now.Add(time.Minute))
		s.Require().NoError(err)
		old, err := s.store.AppendVersion(s.ctx, prev.ID, (*models.CaseNote).CanRevise, func(p *models.CaseNote) {
			p.ApplySupersededBy(next.ID, next.CreatedAt)
		}, next)
		s.Require().NoError(err)
		s.Equal(models.StateSuperseded, old.State)
		s.Equal(next.ID, *old.SupersededBy)

		history, err := s.store.ListByPatient(s.ctx, prev.PatientID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(prev.ID, history[0].ID)
		s.Equal(next.ID, history[1].ID)
	})

	s.Run("rejected validate inserts nothing", func() {
		prev := s.scanned()
		next, err := models.NewVersion(prev, id.NewCaseNoteID(), prev.DoctorID, "v2", s.now)
		s.Require().NoError(err)
		_, err = s.store.AppendVersion(s.ctx, prev.ID, (*models.CaseNote).CanRevise, func(p *models.CaseNote) {
			p.ApplySupersededBy(next.ID, next.CreatedAt)
		}, next)
		s.Error(err)
		_, err = s.store.FindByID(s.ctx, next.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestListRequiringReview() {
	a := s.scanned()
	b := s.scanned()
	_ = s.scanned()
	_, err := s.store.Execute(s.ctx, b.ID, (*models.CaseNote).CanFailTranscription, func(c *models.CaseNote) {
		c.ApplyTranscriptionFailure("boom", s.now)
	})
	s.Require().NoError(err)
	_, err = s.store.Execute(s.ctx, a.ID, (*models.CaseNote).CanApplyTranscription, func(c *models.CaseNote) {
		c.ApplySentToReview("text", nil, s.now)
	})
	s.Require().NoError(err)

	pending, err := s.store.ListRequiringReview(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 2)
}
