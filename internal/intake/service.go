// Package intake accepts raw document uploads, stores their bytes and hands
// scanned documents to the lifecycle manager for transcription.
package intake

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/contentstore"
	dirmodels "github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/config"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/sentinel"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

type UploadStore interface {
	Create(ctx context.Context, u *models.FileUpload) error
	Execute(ctx context.Context, uploadID id.FileUploadID, validate func(*models.FileUpload) error, mutate func(*models.FileUpload)) (*models.FileUpload, error)
}

type ContentWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

type Lifecycle interface {
	CreateScanned(ctx context.Context, upload *models.FileUpload) (*models.CaseNote, error)
}

type Directory interface {
	RequireDoctor(ctx context.Context, userID id.UserID) (*dirmodels.User, error)
	RequirePatient(ctx context.Context, patientID id.PatientID) (*dirmodels.Patient, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Request is one upload. NoteType defaults to scanned; manual uploads are
// stored without creating a note.
type Request struct {
	DoctorID  id.UserID
	PatientID id.PatientID
	Filename  string
	MimeType  string
	Data      []byte
	NoteType  models.NoteType
}

// Result carries the upload record and, for scanned uploads, its pending note.
type Result struct {
	Upload *models.FileUpload
	Note   *models.CaseNote
}

type Metrics struct {
	Uploads *prometheus.CounterVec
	Bytes   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_uploads_total",
			Help: "Uploads by final status",
		}, []string{"status"}),
		Bytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_notes_upload_bytes",
			Help:    "Size of stored uploads",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
	}
}

type Service struct {
	uploads   UploadStore
	content   ContentWriter
	lifecycle Lifecycle
	directory Directory
	audit     AuditPublisher
	allowed   map[string]struct{}
	maxBytes  int64
	putTries  uint64
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithDirectory(d Directory) Option {
	return func(s *Service) {
		s.directory = d
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStorageAttempts sets how many times a failed content write is tried.
func WithStorageAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.putTries = uint64(n)
		}
	}
}

func New(uploads UploadStore, content ContentWriter, lifecycle Lifecycle, cfg config.IntakeConfig, opts ...Option) *Service {
	s := &Service{
		uploads:   uploads,
		content:   content,
		lifecycle: lifecycle,
		allowed:   make(map[string]struct{}, len(cfg.AllowedMimeTypes)),
		maxBytes:  cfg.MaxFileSizeBytes,
		putTries:  3,
		logger:    slog.Default(),
	}
	for _, m := range cfg.AllowedMimeTypes {
		s.allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Intake validates and stores one document. When the content write fails
// the upload is recorded as failed and returned together with a
// CodeStorage error, so callers must inspect Result.Upload.Status.
func (s *Service) Intake(ctx context.Context, req Request) (*Result, error) {
	mimeType, err := s.validate(ctx, &req)
	if err != nil {
		s.count(models.UploadFailed, "rejected")
		return nil, err
	}

	now := requestcontext.Now(ctx)
	u := models.NewPendingUpload(id.NewFileUploadID(), req.DoctorID, req.PatientID, req.Filename, mimeType, int64(len(req.Data)), now)
	if err := s.uploads.Create(ctx, u); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to record file upload")
	}

	key := contentstore.NewKey(u.ID)
	if err := s.put(ctx, key, req.Data); err != nil {
		s.logger.ErrorContext(ctx, "content storage write failed",
			"file_upload_id", u.ID,
			"error", err,
		)
		failed, ferr := s.finish(ctx, u.ID, func(u *models.FileUpload) {
			u.ApplyFailed("content storage write failed", requestcontext.Now(ctx))
		})
		if ferr != nil {
			return nil, dErrors.Wrap(errors.Join(err, ferr), dErrors.CodeStorage, "failed to store file")
		}
		s.emit(ctx, failed, audit.ActionUploadFailed, failed.FailureReason)
		s.count(models.UploadFailed, "storage")
		return &Result{Upload: failed}, dErrors.Wrap(err, dErrors.CodeStorage, "failed to store file")
	}

	checksum := contentstore.Checksum(req.Data)
	completed, err := s.finish(ctx, u.ID, func(u *models.FileUpload) {
		u.ApplyCompleted(key, checksum, requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to complete file upload")
	}
	s.emit(ctx, completed, audit.ActionUploadCompleted, mimeType)
	s.count(models.UploadCompleted, "")
	if s.metrics != nil {
		s.metrics.Bytes.Observe(float64(completed.SizeBytes))
	}
	s.logger.InfoContext(ctx, "file upload stored",
		"file_upload_id", completed.ID,
		"patient_id", completed.PatientID,
		"size_bytes", completed.SizeBytes,
	)

	result := &Result{Upload: completed}
	if req.NoteType == models.NoteTypeManual {
		return result, nil
	}
	note, err := s.lifecycle.CreateScanned(ctx, completed)
	if err != nil {
		return result, err
	}
	result.Note = note
	return result, nil
}

func (s *Service) validate(ctx context.Context, req *Request) (string, error) {
	if len(req.Data) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "file is empty")
	}
	if s.maxBytes > 0 && int64(len(req.Data)) > s.maxBytes {
		return "", dErrors.New(dErrors.CodeValidation, "file exceeds maximum size")
	}
	mediaType, _, err := mime.ParseMediaType(req.MimeType)
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "invalid mime type")
	}
	if _, ok := s.allowed[mediaType]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "mime type "+mediaType+" is not accepted")
	}
	if req.NoteType == "" {
		req.NoteType = models.NoteTypeScanned
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		req.Filename = "upload"
	}
	if req.DoctorID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "doctor is required")
	}
	if req.PatientID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "patient is required")
	}
	if s.directory != nil {
		if _, err := s.directory.RequireDoctor(ctx, req.DoctorID); err != nil {
			return "", err
		}
		if _, err := s.directory.RequirePatient(ctx, req.PatientID); err != nil {
			return "", err
		}
	}
	return mediaType, nil
}

// put writes the bytes with a short retry. A conflict after a failed try
// means the earlier write landed, since keys are unique per attempt.
func (s *Service) put(ctx context.Context, key string, data []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	tries := 0
	op := func() error {
		tries++
		err := s.content.Put(ctx, key, data)
		if err != nil && tries > 1 && errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.putTries-1), ctx))
}

func (s *Service) finish(ctx context.Context, uploadID id.FileUploadID, mutate func(*models.FileUpload)) (*models.FileUpload, error) {
	return s.uploads.Execute(ctx, uploadID, func(u *models.FileUpload) error { return u.CanFinish() }, mutate)
}

// emit records operations events; a failed write is logged, not returned.
func (s *Service) emit(ctx context.Context, u *models.FileUpload, action audit.Action, detail string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Emit(ctx, audit.Event{
		Action:       action,
		FileUploadID: u.ID,
		PatientID:    u.PatientID,
		ActorID:      u.DoctorID,
		Detail:       detail,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "upload audit failed", "file_upload_id", u.ID, "error", err)
	}
}

func (s *Service) count(status models.UploadStatus, reason string) {
	if s.metrics == nil {
		return
	}
	label := string(status)
	if reason != "" {
		label += "_" + reason
	}
	s.metrics.Uploads.WithLabelValues(label).Inc()
}
