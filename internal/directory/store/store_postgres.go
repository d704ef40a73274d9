package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
	txcontext "github.com/vishalp-65/patient-case-notes-system/pkg/platform/tx"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type PostgresPatients struct {
	db *sql.DB
}

func NewPostgresPatients(db *sql.DB) *PostgresPatients {
	return &PostgresPatients{db: db}
}

func (s *PostgresPatients) Create(ctx context.Context, p *models.Patient) error {
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO patients (id, nhs_number, name, date_of_birth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(p.ID), p.NHSNumber.String(), p.Name, p.DateOfBirth, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nhs number: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (s *PostgresPatients) FindByID(ctx context.Context, patientID id.PatientID) (*models.Patient, error) {
	return s.findOne(ctx, `SELECT id, nhs_number, name, date_of_birth, created_at, updated_at FROM patients WHERE id = $1`, uuid.UUID(patientID))
}

func (s *PostgresPatients) FindByNHSNumber(ctx context.Context, nhs id.NHSNumber) (*models.Patient, error) {
	return s.findOne(ctx, `SELECT id, nhs_number, name, date_of_birth, created_at, updated_at FROM patients WHERE nhs_number = $1`, nhs.String())
}

func (s *PostgresPatients) findOne(ctx context.Context, query string, arg any) (*models.Patient, error) {
	p, err := scanPatient(txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}
	return p, nil
}

func (s *PostgresPatients) Execute(ctx context.Context, patientID id.PatientID, validate func(*models.Patient) error, mutate func(*models.Patient)) (*models.Patient, error) {
	var result *models.Patient
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		p, err := scanPatient(q.QueryRowContext(ctx,
			`SELECT id, nhs_number, name, date_of_birth, created_at, updated_at FROM patients WHERE id = $1 FOR UPDATE`,
			uuid.UUID(patientID)))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("patient %s: %w", patientID, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}
		if err := validate(p); err != nil {
			return err
		}
		mutate(p)
		if _, err := q.ExecContext(ctx, `UPDATE patients SET name = $2, date_of_birth = $3, updated_at = $4 WHERE id = $1`,
			uuid.UUID(p.ID), p.Name, p.DateOfBirth, p.UpdatedAt); err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(row scanner) (*models.Patient, error) {
	var (
		p         models.Patient
		patientID uuid.UUID
		nhs       string
	)
	if err := row.Scan(&patientID, &nhs, &p.Name, &p.DateOfBirth, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PatientID(patientID)
	p.NHSNumber = id.NHSNumber(nhs)
	p.DateOfBirth = p.DateOfBirth.UTC()
	return &p, nil
}

type PostgresUsers struct {
	db *sql.DB
}

func NewPostgresUsers(db *sql.DB) *PostgresUsers {
	return &PostgresUsers{db: db}
}

func (s *PostgresUsers) Create(ctx context.Context, u *models.User) error {
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (id, email, name, nhs_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(u.ID), u.Email, u.Name, u.NHSID, u.Role.String(), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user identity: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresUsers) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	var (
		u    models.User
		uid  uuid.UUID
		role string
	)
	err := txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, email, name, nhs_id, role, created_at FROM users WHERE id = $1`, uuid.UUID(userID)).
		Scan(&uid, &u.Email, &u.Name, &u.NHSID, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.ID = id.UserID(uid)
	u.Role = id.Role(role)
	return &u, nil
}
