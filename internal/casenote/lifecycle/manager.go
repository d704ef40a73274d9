// Package lifecycle owns the case note state machine. It is the only writer
// of a note's type, transcription status, score and review flag; intake, the
// dispatcher and the review queue request transitions through it.
//
// Every transition runs inside StoreTx with the note's lock key so a
// transcription result, a dispatch failure and a review decision for the
// same note are serialized. The note store re-checks the transition guard
// under its row lock, so the loser of a race sees CodeStaleState.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	dirmodels "github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
)

const tracerName = "github.com/vishalp-65/patient-case-notes-system/internal/casenote/lifecycle"

type NoteStore interface {
	Create(ctx context.Context, n *models.CaseNote) error
	FindByID(ctx context.Context, noteID id.CaseNoteID) (*models.CaseNote, error)
	FindByFileUpload(ctx context.Context, uploadID id.FileUploadID) (*models.CaseNote, error)
	ListByPatient(ctx context.Context, patientID id.PatientID) ([]*models.CaseNote, error)
	ListRequiringReview(ctx context.Context) ([]*models.CaseNote, error)
	Execute(ctx context.Context, noteID id.CaseNoteID, validate func(*models.CaseNote) error, mutate func(*models.CaseNote)) (*models.CaseNote, error)
	AppendVersion(ctx context.Context, prevID id.CaseNoteID, validate func(*models.CaseNote) error, mutate func(prev *models.CaseNote), next *models.CaseNote) (*models.CaseNote, error)
}

type UploadStore interface {
	FindByID(ctx context.Context, uploadID id.FileUploadID) (*models.FileUpload, error)
}

// Scheduler hands an intake-completed event to the transcription dispatcher.
// It must not block on the transcription itself.
type Scheduler interface {
	Schedule(ctx context.Context, event models.IntakeCompleted) error
}

// Canceller aborts an in-flight dispatch for an upload.
type Canceller interface {
	Cancel(uploadID id.FileUploadID) bool
}

type Directory interface {
	RequireDoctor(ctx context.Context, userID id.UserID) (*dirmodels.User, error)
	RequirePatient(ctx context.Context, patientID id.PatientID) (*dirmodels.Patient, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Manager struct {
	notes     NoteStore
	uploads   UploadStore
	gate      *gate.Gate
	tx        StoreTx
	directory Directory
	scheduler Scheduler
	canceller Canceller
	audit     AuditPublisher
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Manager) {
		m.audit = publisher
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTx sets the transactional boundary. Defaults to the in-memory sharded lock.
func WithTx(tx StoreTx) Option {
	return func(m *Manager) {
		m.tx = tx
	}
}

// WithDirectory enables doctor and patient existence checks.
func WithDirectory(d Directory) Option {
	return func(m *Manager) {
		m.directory = d
	}
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

func New(notes NoteStore, uploads UploadStore, g *gate.Gate, opts ...Option) *Manager {
	m := &Manager{
		notes:   notes,
		uploads: uploads,
		gate:    g,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tx == nil {
		m.tx = NewShardedTx()
	}
	return m
}

// SetScheduler and SetCanceller wire the dispatcher after construction,
// since the dispatcher itself depends on the Manager. Call before serving.
func (m *Manager) SetScheduler(s Scheduler) {
	m.scheduler = s
}

func (m *Manager) SetCanceller(c Canceller) {
	m.canceller = c
}

// Get returns a note by ID.
func (m *Manager) Get(ctx context.Context, noteID id.CaseNoteID) (*models.CaseNote, error) {
	n, err := m.notes.FindByID(ctx, noteID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return n, nil
}

// FindByFileUpload returns the note produced by an upload.
func (m *Manager) FindByFileUpload(ctx context.Context, uploadID id.FileUploadID) (*models.CaseNote, error) {
	n, err := m.notes.FindByFileUpload(ctx, uploadID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return n, nil
}

// History returns every version of a patient's notes, oldest first.
func (m *Manager) History(ctx context.Context, patientID id.PatientID) ([]*models.CaseNote, error) {
	notes, err := m.notes.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return notes, nil
}

// ListRequiringReview returns notes with the review flag set, oldest first.
func (m *Manager) ListRequiringReview(ctx context.Context) ([]*models.CaseNote, error) {
	notes, err := m.notes.ListRequiringReview(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return notes, nil
}

// inTx runs fn in a transaction serialized on noteID.
func (m *Manager) inTx(ctx context.Context, noteID id.CaseNoteID, fn func(txCtx context.Context) error) error {
	return m.tx.RunInTx(withLockKey(ctx, noteID.String()), fn)
}

// start opens a span and returns a finisher that records err and duration.
func (m *Manager) start(ctx context.Context, op string, noteID id.CaseNoteID) (context.Context, func(*error)) {
	ctx, span := m.tracer.Start(ctx, "casenote."+op,
		trace.WithAttributes(attribute.String("case_note_id", noteID.String())))
	begin := time.Now()
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, dErrors.MessageOf(err))
			if dErrors.HasCode(err, dErrors.CodeStaleState) {
				m.metrics.stale(op)
			}
		}
		span.End()
		m.metrics.observe(op, begin)
	}
}

func (m *Manager) emit(ctx context.Context, n *models.CaseNote, action audit.Action, detail string) error {
	if m.audit == nil {
		return nil
	}
	event := audit.Event{
		Action:     action,
		CaseNoteID: n.ID,
		PatientID:  n.PatientID,
		Detail:     detail,
	}
	if n.FileUploadID != nil {
		event.FileUploadID = *n.FileUploadID
	}
	return m.audit.Emit(ctx, event)
}

// staleIf turns an aggregate guard failure into CodeStaleState.
func staleIf(err error, msg string) error {
	if err == nil {
		return nil
	}
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeStaleState, msg)
	}
	return err
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "case note not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "case note already exists")
	case dErrors.IsDomain(err):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeStorage, "case note persistence failed")
	}
}
