// Package service manages the patient and practitioner directory that case
// notes reference by identifier.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

type PatientStore interface {
	Create(ctx context.Context, p *models.Patient) error
	FindByID(ctx context.Context, patientID id.PatientID) (*models.Patient, error)
	FindByNHSNumber(ctx context.Context, nhs id.NHSNumber) (*models.Patient, error)
	Execute(ctx context.Context, patientID id.PatientID, validate func(*models.Patient) error, mutate func(*models.Patient)) (*models.Patient, error)
}

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	patients       PatientStore
	users          UserStore
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(patients PatientStore, users UserStore, opts ...Option) *Service {
	s := &Service{patients: patients, users: users, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) RegisterPatient(ctx context.Context, nhsNumber, name string, dateOfBirth time.Time) (*models.Patient, error) {
	nhs, err := id.ParseNHSNumber(nhsNumber)
	if err != nil {
		return nil, err
	}
	p, err := models.NewPatient(id.NewPatientID(), nhs, name, dateOfBirth, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "a patient with this NHS number is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to register patient")
	}
	if err := s.emit(ctx, audit.Event{Action: audit.ActionPatientRegistered, PatientID: p.ID}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "patient registered", "patient_id", p.ID)
	return p, nil
}

// CorrectPatient updates name and/or date of birth. The NHS number is immutable.
func (s *Service) CorrectPatient(ctx context.Context, patientID id.PatientID, correction models.PatientCorrection) (*models.Patient, error) {
	now := requestcontext.Now(ctx)
	p, err := s.patients.Execute(ctx, patientID,
		func(p *models.Patient) error { return p.CanCorrect(correction, now) },
		func(p *models.Patient) { p.ApplyCorrection(correction, now) },
	)
	if err != nil {
		return nil, wrapStoreErr(err, "patient")
	}
	if err := s.emit(ctx, audit.Event{Action: audit.ActionPatientCorrected, PatientID: p.ID}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, patientID id.PatientID) (*models.Patient, error) {
	p, err := s.patients.FindByID(ctx, patientID)
	if err != nil {
		return nil, wrapStoreErr(err, "patient")
	}
	return p, nil
}

func (s *Service) FindPatientByNHSNumber(ctx context.Context, nhsNumber string) (*models.Patient, error) {
	nhs, err := id.ParseNHSNumber(nhsNumber)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.FindByNHSNumber(ctx, nhs)
	if err != nil {
		return nil, wrapStoreErr(err, "patient")
	}
	return p, nil
}

func (s *Service) RegisterUser(ctx context.Context, email, name, nhsID string, role id.Role) (*models.User, error) {
	u, err := models.NewUser(id.NewUserID(), email, name, nhsID, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "email or practitioner identifier already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to register user")
	}
	if err := s.emit(ctx, audit.Event{Action: audit.ActionUserRegistered, Detail: u.Role.String()}); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, wrapStoreErr(err, "user")
	}
	return u, nil
}

// RequireDoctor resolves an authoring doctor. Unknown users and non-doctors
// are validation errors because the identifier came from the caller.
func (s *Service) RequireDoctor(ctx context.Context, userID id.UserID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeValidation, "doctor does not exist")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to load doctor")
	}
	if u.Role != id.RoleDoctor {
		return nil, dErrors.New(dErrors.CodeValidation, "user is not a doctor")
	}
	return u, nil
}

// RequirePatient resolves a referenced patient. Unknown patients are validation errors.
func (s *Service) RequirePatient(ctx context.Context, patientID id.PatientID) (*models.Patient, error) {
	p, err := s.patients.FindByID(ctx, patientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeValidation, "patient does not exist")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to load patient")
	}
	return p, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, event)
}

func wrapStoreErr(err error, entity string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case dErrors.IsDomain(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeStorage, "failed to load "+entity)
	}
}
