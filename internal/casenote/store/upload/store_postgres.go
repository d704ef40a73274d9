package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
	txcontext "github.com/vishalp-65/patient-case-notes-system/pkg/platform/tx"
)

const uploadColumns = `id, doctor_id, patient_id, original_filename, storage_key, size_bytes, mime_type,
	checksum, status, failure_reason, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, u *models.FileUpload) error {
	query := `INSERT INTO file_uploads (` + uploadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(u.ID), uuid.UUID(u.DoctorID), uuid.UUID(u.PatientID), u.OriginalFilename, u.StorageKey,
		u.SizeBytes, u.MimeType, u.Checksum, string(u.Status), u.FailureReason, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert file upload %s: %w", u.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert file upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, uploadID id.FileUploadID) (*models.FileUpload, error) {
	row := txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM file_uploads WHERE id = $1`, uuid.UUID(uploadID))
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file upload %s: %w", uploadID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find file upload: %w", err)
	}
	return u, nil
}

// Execute locks the row with SELECT ... FOR UPDATE for validate and mutate.
func (s *PostgresStore) Execute(ctx context.Context, uploadID id.FileUploadID, validate func(*models.FileUpload) error, mutate func(*models.FileUpload)) (*models.FileUpload, error) {
	var result *models.FileUpload
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		row := q.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM file_uploads WHERE id = $1 FOR UPDATE`, uuid.UUID(uploadID))
		u, err := scanUpload(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("file upload %s: %w", uploadID, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock file upload: %w", err)
		}
		if err := validate(u); err != nil {
			return err
		}
		mutate(u)
		_, err = q.ExecContext(ctx, `
			UPDATE file_uploads SET storage_key = $2, checksum = $3, status = $4, failure_reason = $5, updated_at = $6
			WHERE id = $1`,
			uuid.UUID(u.ID), u.StorageKey, u.Checksum, string(u.Status), u.FailureReason, u.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update file upload: %w", err)
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type uploadRow interface {
	Scan(dest ...any) error
}

func scanUpload(row uploadRow) (*models.FileUpload, error) {
	var (
		u                            models.FileUpload
		uploadID, doctorID, patientID uuid.UUID
		status                       string
	)
	if err := row.Scan(&uploadID, &doctorID, &patientID, &u.OriginalFilename, &u.StorageKey, &u.SizeBytes,
		&u.MimeType, &u.Checksum, &status, &u.FailureReason, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ID = id.FileUploadID(uploadID)
	u.DoctorID = id.UserID(doctorID)
	u.PatientID = id.PatientID(patientID)
	u.Status = models.UploadStatus(status)
	return &u, nil
}
