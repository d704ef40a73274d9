package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/directory/store"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/publisher"
	auditmemory "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/store/memory"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	service *Service
	audit   *auditmemory.InMemoryStore
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.audit = auditmemory.NewInMemoryStore()
	s.service = New(store.NewInMemoryPatients(), store.NewInMemoryUsers(),
		WithAuditPublisher(publisher.NewPublisher(s.audit)))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func (s *ServiceSuite) TestRegisterPatient() {
	dob := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Run("registers and audits", func() {
		p, err := s.service.RegisterPatient(s.ctx, "943 476 5919", "Ada", dob)
		s.Require().NoError(err)
		s.Equal(id.NHSNumber("9434765919"), p.NHSNumber)
		s.Contains(s.audit.Actions(), audit.ActionPatientRegistered)

		found, err := s.service.FindPatientByNHSNumber(s.ctx, "9434765919")
		s.Require().NoError(err)
		s.Equal(p.ID, found.ID)
	})

	s.Run("duplicate nhs number conflicts", func() {
		_, err := s.service.RegisterPatient(s.ctx, "9434765919", "Someone", dob)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("bad check digit", func() {
		_, err := s.service.RegisterPatient(s.ctx, "9434765918", "Ada", dob)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestCorrectPatient() {
	p, err := s.service.RegisterPatient(s.ctx, "9434765919", "Ada", time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	dob := time.Date(1981, 2, 2, 0, 0, 0, 0, time.UTC)
	got, err := s.service.CorrectPatient(s.ctx, p.ID, models.PatientCorrection{DateOfBirth: &dob})
	s.Require().NoError(err)
	s.Equal(dob, got.DateOfBirth)
	s.Equal("Ada", got.Name)

	_, err = s.service.CorrectPatient(s.ctx, id.NewPatientID(), models.PatientCorrection{DateOfBirth: &dob})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.CorrectPatient(s.ctx, p.ID, models.PatientCorrection{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestRequireDoctor() {
	doctor, err := s.service.RegisterUser(s.ctx, "doc@nhs.net", "Doc", "GMC1", id.RoleDoctor)
	s.Require().NoError(err)
	admin, err := s.service.RegisterUser(s.ctx, "admin@nhs.net", "Admin", "ADM1", id.RoleAdmin)
	s.Require().NoError(err)

	_, err = s.service.RequireDoctor(s.ctx, doctor.ID)
	s.NoError(err)

	_, err = s.service.RequireDoctor(s.ctx, admin.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.RequireDoctor(s.ctx, id.NewUserID())
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.RequirePatient(s.ctx, id.NewPatientID())
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
