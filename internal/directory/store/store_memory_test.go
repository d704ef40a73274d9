package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

type InMemorySuite struct {
	suite.Suite
	patients *InMemoryPatients
	users    *InMemoryUsers
	ctx      context.Context
	now      time.Time
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.patients = NewInMemoryPatients()
	s.users = NewInMemoryUsers()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *InMemorySuite) TestPatients() {
	p, err := models.NewPatient(id.NewPatientID(), "9434765919", "Ada", time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.patients.Create(s.ctx, p))

	s.Run("nhs number is unique", func() {
		dup, err := models.NewPatient(id.NewPatientID(), "9434765919", "Other", time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), s.now)
		s.Require().NoError(err)
		s.ErrorIs(s.patients.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)
	})

	s.Run("lookup by nhs number", func() {
		got, err := s.patients.FindByNHSNumber(s.ctx, "9434765919")
		s.Require().NoError(err)
		s.Equal(p.ID, got.ID)
	})

	s.Run("execute applies correction", func() {
		name := "Ada King"
		c := models.PatientCorrection{Name: &name}
		got, err := s.patients.Execute(s.ctx, p.ID, func(p *models.Patient) error { return p.CanCorrect(c, s.now) },
			func(p *models.Patient) { p.ApplyCorrection(c, s.now) })
		s.Require().NoError(err)
		s.Equal("Ada King", got.Name)
	})

	s.Run("missing patient", func() {
		_, err := s.patients.FindByID(s.ctx, id.NewPatientID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemorySuite) TestUsers() {
	u, err := models.NewUser(id.NewUserID(), "doc@nhs.net", "Doc", "GMC1", id.RoleDoctor, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(s.ctx, u))

	dup, err := models.NewUser(id.NewUserID(), "doc@nhs.net", "Doc 2", "GMC2", id.RoleDoctor, s.now)
	s.Require().NoError(err)
	s.ErrorIs(s.users.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)

	got, err := s.users.FindByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(id.RoleDoctor, got.Role)
}
