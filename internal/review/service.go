// Package review is the review queue: it lists notes awaiting clinical
// sign-off and forwards reviewer decisions to the lifecycle manager.
package review

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// Lifecycle is the subset of the lifecycle manager the queue needs.
type Lifecycle interface {
	ListRequiringReview(ctx context.Context) ([]*models.CaseNote, error)
	RecordReview(ctx context.Context, noteID id.CaseNoteID, reviewerID id.UserID, decision models.ReviewDecision, amended string) (*models.CaseNote, error)
}

// Reviewer identifies the clinician acting on the queue.
type Reviewer struct {
	ID   id.UserID
	Role id.Role
}

type Metrics struct {
	Depth     prometheus.Gauge
	Decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Depth: f.NewGauge(prometheus.GaugeOpts{
			Name: "case_notes_review_queue_depth",
			Help: "Notes awaiting review at the last listing",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_notes_review_requests_total",
			Help: "Review decisions submitted, by outcome",
		}, []string{"outcome"}),
	}
}

type Service struct {
	lifecycle Lifecycle
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(lifecycle Lifecycle, opts ...Option) *Service {
	s := &Service{lifecycle: lifecycle, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPending returns notes requiring review, oldest first.
func (s *Service) ListPending(ctx context.Context, role id.Role) ([]*models.CaseNote, error) {
	if !role.CanReview() {
		return nil, dErrors.New(dErrors.CodeForbidden, "review queue requires doctor or admin role")
	}
	notes, err := s.lifecycle.ListRequiringReview(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Depth.Set(float64(len(notes)))
	}
	return notes, nil
}

// Decide records a reviewer decision. amended is only read for amend.
func (s *Service) Decide(ctx context.Context, noteID id.CaseNoteID, reviewer Reviewer, decision models.ReviewDecision, amended string) (*models.CaseNote, error) {
	if !reviewer.Role.CanReview() {
		s.count("forbidden")
		return nil, dErrors.New(dErrors.CodeForbidden, "review decisions require doctor or admin role")
	}
	if reviewer.ID.IsNil() {
		s.count("unauthorized")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "reviewer identity required")
	}
	if !decision.IsValid() {
		s.count("invalid")
		return nil, dErrors.New(dErrors.CodeValidation, "decision must be accept, amend or reject")
	}

	note, err := s.lifecycle.RecordReview(ctx, noteID, reviewer.ID, decision, amended)
	if err != nil {
		outcome := string(dErrors.CodeOf(err))
		s.count(outcome)
		s.logger.InfoContext(ctx, "review decision not applied",
			"case_note_id", noteID,
			"reviewer_id", reviewer.ID,
			"decision", decision,
			"outcome", outcome,
		)
		return nil, err
	}
	s.count("applied")
	return note, nil
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(outcome).Inc()
	}
}
