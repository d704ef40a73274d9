package review

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/lifecycle"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/note"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/upload"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	"github.com/vishalp-65/patient-case-notes-system/internal/review/mocks"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Lifecycle
type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	lifecycle *mocks.MockLifecycle
	metrics   *Metrics
	service   *Service
	doctor    Reviewer
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.ctx = context.Background()
	s.lifecycle = mocks.NewMockLifecycle(ctrl)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.service = New(s.lifecycle, WithMetrics(s.metrics))
	s.doctor = Reviewer{ID: id.NewUserID(), Role: id.RoleDoctor}
}

func (s *ServiceSuite) TestListPending() {
	s.Run("doctor and admin may list", func() {
		pending := []*models.CaseNote{{ID: id.NewCaseNoteID()}, {ID: id.NewCaseNoteID()}}
		s.lifecycle.EXPECT().ListRequiringReview(gomock.Any()).Return(pending, nil).Times(2)

		got, err := s.service.ListPending(s.ctx, id.RoleDoctor)
		s.Require().NoError(err)
		s.Len(got, 2)
		_, err = s.service.ListPending(s.ctx, id.RoleAdmin)
		s.Require().NoError(err)
		s.Equal(2.0, testutil.ToFloat64(s.metrics.Depth))
	})

	s.Run("other roles are forbidden", func() {
		for _, role := range []id.Role{"", "patient", "nurse"} {
			_, err := s.service.ListPending(s.ctx, role)
			s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "role %q", role)
		}
	})
}

func (s *ServiceSuite) TestDecide() {
	noteID := id.NewCaseNoteID()

	s.Run("forwards decision to lifecycle", func() {
		want := &models.CaseNote{ID: noteID, Content: "corrected text"}
		s.lifecycle.EXPECT().
			RecordReview(gomock.Any(), noteID, s.doctor.ID, models.DecisionAmend, "corrected text").
			Return(want, nil)

		got, err := s.service.Decide(s.ctx, noteID, s.doctor, models.DecisionAmend, "corrected text")
		s.Require().NoError(err)
		s.Equal(want, got)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("applied")))
	})

	s.Run("stale state is returned unchanged", func() {
		s.lifecycle.EXPECT().
			RecordReview(gomock.Any(), noteID, s.doctor.ID, models.DecisionAccept, "").
			Return(nil, dErrors.New(dErrors.CodeStaleState, "case note no longer requires review"))

		_, err := s.service.Decide(s.ctx, noteID, s.doctor, models.DecisionAccept, "")
		s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("stale_state")))
	})

	s.Run("rejects bad callers before lifecycle", func() {
		_, err := s.service.Decide(s.ctx, noteID, Reviewer{ID: id.NewUserID(), Role: "patient"}, models.DecisionAccept, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		_, err = s.service.Decide(s.ctx, noteID, Reviewer{Role: id.RoleDoctor}, models.DecisionAccept, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		_, err = s.service.Decide(s.ctx, noteID, s.doctor, "approve", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// The queue over a real lifecycle manager: a low score lands in the queue
// and an amend takes it out with the corrected text.
func (s *ServiceSuite) TestAmendRoundTrip() {
	g, err := gate.New(gate.DefaultThreshold)
	s.Require().NoError(err)
	uploads := upload.NewInMemory()
	manager := lifecycle.New(note.NewInMemory(), uploads, g, lifecycle.WithScheduler(noopScheduler{}))
	svc := New(manager)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	u := models.NewPendingUpload(id.NewFileUploadID(), id.NewUserID(), id.NewPatientID(), "scan.png", "image/png", 10, requestcontext.Now(ctx))
	u.ApplyCompleted("uploads/key", "sum", requestcontext.Now(ctx))
	s.Require().NoError(uploads.Create(ctx, u))
	n, err := manager.CreateScanned(ctx, u)
	s.Require().NoError(err)
	_, _, err = manager.ApplyTranscription(ctx, n.ID, "corected txt", 0.40)
	s.Require().NoError(err)

	pending, err := svc.ListPending(ctx, id.RoleDoctor)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(n.ID, pending[0].ID)

	got, err := svc.Decide(ctx, n.ID, s.doctor, models.DecisionAmend, "corrected text")
	s.Require().NoError(err)
	s.False(got.RequiresReview)
	s.Equal("corrected text", got.Content)

	_, err = svc.Decide(ctx, n.ID, s.doctor, models.DecisionAccept, "")
	s.True(dErrors.HasCode(err, dErrors.CodeStaleState))
	after, err := manager.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal("corrected text", after.Content)

	pending, err = svc.ListPending(ctx, id.RoleAdmin)
	s.Require().NoError(err)
	s.Empty(pending)
}

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, models.IntakeCompleted) error { return nil }
