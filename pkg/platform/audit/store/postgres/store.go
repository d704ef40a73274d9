package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/outbox"
	txcontext "github.com/vishalp-65/patient-case-notes-system/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table, inside the caller's transaction when
// ctx carries one, and relayed to Kafka by the outbox worker.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// payload is the JSON published to Kafka.
type payload struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Action       string `json:"action"`
	Timestamp    string `json:"timestamp"`
	CaseNoteID   string `json:"case_note_id,omitempty"`
	FileUploadID string `json:"file_upload_id,omitempty"`
	PatientID    string `json:"patient_id,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Device       string `json:"device,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	p := payload{
		ID:        eventID.String(),
		Category:  string(event.Action.Category()),
		Action:    string(event.Action),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID: event.RequestID,
		Device:    event.Device,
		Detail:    event.Detail,
	}
	if !event.CaseNoteID.IsNil() {
		p.CaseNoteID = event.CaseNoteID.String()
	}
	if !event.FileUploadID.IsNil() {
		p.FileUploadID = event.FileUploadID.String()
	}
	if !event.PatientID.IsNil() {
		p.PatientID = event.PatientID.String()
	}
	if !event.ActorID.IsNil() {
		p.ActorID = event.ActorID.String()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType, aggregateID := "audit", eventID.String()
	switch {
	case p.CaseNoteID != "":
		aggregateType, aggregateID = "case_note", p.CaseNoteID
	case p.FileUploadID != "":
		aggregateType, aggregateID = "file_upload", p.FileUploadID
	case p.PatientID != "":
		aggregateType, aggregateID = "patient", p.PatientID
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		string(event.Action),
		body,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ProcessPending locks up to limit unprocessed outbox rows, hands each to
// publish in creation order and marks the published ones processed. Rows locked
// by another relay are skipped. Processing stops at the first publish error;
// rows already published in the batch are still marked.
func (s *Store) ProcessPending(ctx context.Context, limit int, publish func(context.Context, outbox.Entry) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	var entries []outbox.Entry
	for rows.Next() {
		var e outbox.Entry
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox: %w", err)
	}

	published := 0
	var publishErr error
	for _, e := range entries {
		if publishErr = publish(ctx, e); publishErr != nil {
			break
		}
		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET processed_at = $1 WHERE id = $2`, time.Now(), e.ID); err != nil {
			return 0, fmt.Errorf("mark outbox entry processed: %w", err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return published, publishErr
}
