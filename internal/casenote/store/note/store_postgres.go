package note

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

const noteColumns = `id, patient_id, doctor_id, content, note_type, file_upload_id, transcription_status,
	confidence_score, score_invalid, requires_review, state, version, previous_version_id, superseded_by,
	reviewed_by, review_decision, failure_reason, created_at, updated_at`

// PostgresStore persists case notes in the case_notes table. Writes join the
// transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, n *models.CaseNote) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return insert(ctx, txcontext.QuerierFrom(ctx, s.db), n)
}

func insert(ctx context.Context, q txcontext.Querier, n *models.CaseNote) error {
	query := `INSERT INTO case_notes (` + noteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := q.ExecContext(ctx, query, noteArgs(n)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert case note %s: %w", n.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert case note: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, noteID id.CaseNoteID) (*models.CaseNote, error) {
	row := txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM case_notes WHERE id = $1`, uuid.UUID(noteID))
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case note %s: %w", noteID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find case note: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) FindByFileUpload(ctx context.Context, uploadID id.FileUploadID) (*models.CaseNote, error) {
	row := txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM case_notes WHERE file_upload_id = $1`, uuid.UUID(uploadID))
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case note for upload %s: %w", uploadID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find case note by upload: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListByPatient(ctx context.Context, patientID id.PatientID) ([]*models.CaseNote, error) {
	return s.list(ctx, `SELECT `+noteColumns+` FROM case_notes WHERE patient_id = $1 ORDER BY created_at, id`, uuid.UUID(patientID))
}

func (s *PostgresStore) ListRequiringReview(ctx context.Context) ([]*models.CaseNote, error) {
	return s.list(ctx, `SELECT `+noteColumns+` FROM case_notes WHERE requires_review ORDER BY created_at, id`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.CaseNote, error) {
	rows, err := txcontext.QuerierFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list case notes: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CaseNote, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case notes: %w", err)
	}
	return out, nil
}

// Execute locks the row with SELECT ... FOR UPDATE for the validate and mutate
// callbacks. The lock lives until the surrounding transaction ends.
func (s *PostgresStore) Execute(ctx context.Context, noteID id.CaseNoteID, validate func(*models.CaseNote) error, mutate func(*models.CaseNote)) (*models.CaseNote, error) {
	var result *models.CaseNote
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		n, err := lockNote(ctx, q, noteID)
		if err != nil {
			return err
		}
		if err := validate(n); err != nil {
			return err
		}
		mutate(n)
		if err := n.Validate(); err != nil {
			return err
		}
		if err := update(ctx, q, n); err != nil {
			return err
		}
		result = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AppendVersion inserts next and applies mutate to prevID in one transaction.
func (s *PostgresStore) AppendVersion(ctx context.Context, prevID id.CaseNoteID, validate func(*models.CaseNote) error, mutate func(prev *models.CaseNote), next *models.CaseNote) (*models.CaseNote, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	var result *models.CaseNote
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, q txcontext.Querier) error {
		prev, err := lockNote(ctx, q, prevID)
		if err != nil {
			return err
		}
		if err := validate(prev); err != nil {
			return err
		}
		mutate(prev)
		if err := prev.Validate(); err != nil {
			return err
		}
		if err := insert(ctx, q, next); err != nil {
			return err
		}
		if err := update(ctx, q, prev); err != nil {
			return err
		}
		result = prev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func lockNote(ctx context.Context, q txcontext.Querier, noteID id.CaseNoteID) (*models.CaseNote, error) {
	row := q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM case_notes WHERE id = $1 FOR UPDATE`, uuid.UUID(noteID))
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case note %s: %w", noteID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock case note: %w", err)
	}
	return n, nil
}

func update(ctx context.Context, q txcontext.Querier, n *models.CaseNote) error {
	query := `
		UPDATE case_notes SET
			content = $2, transcription_status = $3, confidence_score = $4, score_invalid = $5,
			requires_review = $6, state = $7, superseded_by = $8, reviewed_by = $9,
			review_decision = $10, failure_reason = $11, updated_at = $12
		WHERE id = $1
	`
	_, err := q.ExecContext(ctx, query,
		uuid.UUID(n.ID), n.Content, string(n.TranscriptionStatus), nullScore(n.ConfidenceScore), n.ScoreInvalid,
		n.RequiresReview, string(n.State), nullNoteID(n.SupersededBy), nullUserID(n.ReviewedBy),
		string(n.ReviewDecision), n.FailureReason, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update case note: %w", err)
	}
	return nil
}

func noteArgs(n *models.CaseNote) []any {
	var upload uuid.NullUUID
	if n.FileUploadID != nil {
		upload = uuid.NullUUID{UUID: uuid.UUID(*n.FileUploadID), Valid: true}
	}
	return []any{
		uuid.UUID(n.ID), uuid.UUID(n.PatientID), uuid.UUID(n.DoctorID), n.Content, string(n.Type), upload,
		string(n.TranscriptionStatus), nullScore(n.ConfidenceScore), n.ScoreInvalid, n.RequiresReview,
		string(n.State), n.Version, nullNoteID(n.PreviousVersionID), nullNoteID(n.SupersededBy),
		nullUserID(n.ReviewedBy), string(n.ReviewDecision), n.FailureReason, n.CreatedAt, n.UpdatedAt,
	}
}

type noteRow interface {
	Scan(dest ...any) error
}

func scanNote(row noteRow) (*models.CaseNote, error) {
	var (
		n                                     models.CaseNote
		noteID, patientID, doctorID           uuid.UUID
		upload, previous, supersededBy, revBy uuid.NullUUID
		score                                 sql.NullFloat64
		noteType, status, state, decision     string
	)
	if err := row.Scan(&noteID, &patientID, &doctorID, &n.Content, &noteType, &upload, &status,
		&score, &n.ScoreInvalid, &n.RequiresReview, &state, &n.Version, &previous, &supersededBy,
		&revBy, &decision, &n.FailureReason, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.ID = id.CaseNoteID(noteID)
	n.PatientID = id.PatientID(patientID)
	n.DoctorID = id.UserID(doctorID)
	n.Type = models.NoteType(noteType)
	n.TranscriptionStatus = models.TranscriptionStatus(status)
	n.State = models.State(state)
	n.ReviewDecision = models.ReviewDecision(decision)
	if upload.Valid {
		v := id.FileUploadID(upload.UUID)
		n.FileUploadID = &v
	}
	if score.Valid {
		v := score.Float64
		n.ConfidenceScore = &v
	}
	if previous.Valid {
		v := id.CaseNoteID(previous.UUID)
		n.PreviousVersionID = &v
	}
	if supersededBy.Valid {
		v := id.CaseNoteID(supersededBy.UUID)
		n.SupersededBy = &v
	}
	if revBy.Valid {
		v := id.UserID(revBy.UUID)
		n.ReviewedBy = &v
	}
	return &n, nil
}

func nullScore(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullNoteID(v *id.CaseNoteID) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*v), Valid: true}
}

func nullUserID(v *id.UserID) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*v), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
