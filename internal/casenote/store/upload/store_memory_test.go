package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
}

func (s *InMemoryStoreSuite) TestLifecycle() {
	ctx := context.Background()
	now := time.Now()
	u := models.NewPendingUpload(id.NewFileUploadID(), id.NewUserID(), id.NewPatientID(), "scan.pdf", "application/pdf", 42, now)
	s.Require().NoError(s.store.Create(ctx, u))
	s.ErrorIs(s.store.Create(ctx, u), sentinel.ErrConflict)

	done, err := s.store.Execute(ctx, u.ID, (*models.FileUpload).CanFinish, func(f *models.FileUpload) {
		f.ApplyCompleted("uploads/key", "sum", now)
	})
	s.Require().NoError(err)
	s.Equal(models.UploadCompleted, done.Status)

	_, err = s.store.Execute(ctx, u.ID, (*models.FileUpload).CanFinish, func(f *models.FileUpload) {
		f.ApplyFailed("late", now)
	})
	s.Error(err)

	got, err := s.store.FindByID(ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(models.UploadCompleted, got.Status)
	s.Equal("uploads/key", got.StorageKey)

	_, err = s.store.FindByID(ctx, id.NewFileUploadID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
