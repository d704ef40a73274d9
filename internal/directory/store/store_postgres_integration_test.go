//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/directory/store"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
	"github.com/vishalp-65/patient-case-notes-system/pkg/testutil/containers"
)

type PostgresDirectorySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	patients *store.PostgresPatients
	users    *store.PostgresUsers
	ctx      context.Context
	now      time.Time
}

func TestPostgresDirectorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresDirectorySuite))
}

func (s *PostgresDirectorySuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.patients = store.NewPostgresPatients(s.postgres.DB)
	s.users = store.NewPostgresUsers(s.postgres.DB)
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresDirectorySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "case_notes", "file_uploads", "patients", "users"))
}

func (s *PostgresDirectorySuite) TestPatients() {
	dob := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := models.NewPatient(id.NewPatientID(), "9434765919", "Ada", dob, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.patients.Create(s.ctx, p))

	s.Run("round trips", func() {
		got, err := s.patients.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(p.NHSNumber, got.NHSNumber)
		s.Equal("Ada", got.Name)
		s.True(dob.Equal(got.DateOfBirth))
	})

	s.Run("nhs number is unique", func() {
		dup, err := models.NewPatient(id.NewPatientID(), "9434765919", "Other", dob, s.now)
		s.Require().NoError(err)
		s.ErrorIs(s.patients.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)
	})

	s.Run("lookup by nhs number", func() {
		got, err := s.patients.FindByNHSNumber(s.ctx, "9434765919")
		s.Require().NoError(err)
		s.Equal(p.ID, got.ID)
	})

	s.Run("execute persists correction", func() {
		name := "Ada King"
		c := models.PatientCorrection{Name: &name}
		later := s.now.Add(time.Hour)
		_, err := s.patients.Execute(s.ctx, p.ID, func(p *models.Patient) error { return p.CanCorrect(c, later) },
			func(p *models.Patient) { p.ApplyCorrection(c, later) })
		s.Require().NoError(err)

		got, err := s.patients.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal("Ada King", got.Name)
		s.True(later.Equal(got.UpdatedAt))
	})

	s.Run("missing patient", func() {
		_, err := s.patients.FindByID(s.ctx, id.NewPatientID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresDirectorySuite) TestUsers() {
	u, err := models.NewUser(id.NewUserID(), "Doctor@Example.org", "Dr Who", "G1234567", id.RoleDoctor, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(s.ctx, u))

	got, err := s.users.FindByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal("doctor@example.org", got.Email)
	s.Equal(id.RoleDoctor, got.Role)

	dup, err := models.NewUser(id.NewUserID(), "doctor@example.org", "Other", "G7654321", id.RoleAdmin, s.now)
	s.Require().NoError(err)
	s.ErrorIs(s.users.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)

	_, err = s.users.FindByID(s.ctx, id.NewUserID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
