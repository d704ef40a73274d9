// Package httptransport is the thin HTTP surface over intake, the lifecycle
// manager, the review queue and the directory. Handlers decode, call one
// service method and render; business rules stay in the services.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	dirmodels "github.com/vishalp-65/patient-case-notes-system/internal/directory/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/intake"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/metrics"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/readiness"
	"github.com/vishalp-65/patient-case-notes-system/internal/ratelimit"
	"github.com/vishalp-65/patient-case-notes-system/internal/review"
	"github.com/vishalp-65/patient-case-notes-system/internal/transcription"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/middleware/auth"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/middleware/metadata"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/middleware/request"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/middleware/requesttime"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/middleware/role"
)

type IntakeService interface {
	Intake(ctx context.Context, req intake.Request) (*intake.Result, error)
}

type NoteService interface {
	Get(ctx context.Context, noteID id.CaseNoteID) (*models.CaseNote, error)
	History(ctx context.Context, patientID id.PatientID) ([]*models.CaseNote, error)
	CreateManual(ctx context.Context, patientID id.PatientID, doctorID id.UserID, content string) (*models.CaseNote, error)
	ReviseNote(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (*models.CaseNote, error)
	ReplaceRejected(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (*models.CaseNote, error)
	ManualOverride(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (*models.CaseNote, error)
	Redispatch(ctx context.Context, noteID id.CaseNoteID) (*models.CaseNote, error)
}

type ReviewService interface {
	ListPending(ctx context.Context, role id.Role) ([]*models.CaseNote, error)
	Decide(ctx context.Context, noteID id.CaseNoteID, reviewer review.Reviewer, decision models.ReviewDecision, amended string) (*models.CaseNote, error)
}

// CallbackReceiver accepts results pushed by the recognition service.
type CallbackReceiver interface {
	Deliver(ctx context.Context, requestID string, st transcription.Status) error
}

type DirectoryService interface {
	RegisterPatient(ctx context.Context, nhsNumber, name string, dateOfBirth time.Time) (*dirmodels.Patient, error)
	CorrectPatient(ctx context.Context, patientID id.PatientID, correction dirmodels.PatientCorrection) (*dirmodels.Patient, error)
	GetPatient(ctx context.Context, patientID id.PatientID) (*dirmodels.Patient, error)
	RegisterUser(ctx context.Context, email, name, nhsID string, role id.Role) (*dirmodels.User, error)
	GetUser(ctx context.Context, userID id.UserID) (*dirmodels.User, error)
}

type ReadinessChecker interface {
	CheckAll(ctx context.Context) readiness.Report
}

// Deps are the collaborators of the router. Callbacks is nil in poll mode,
// which leaves the callback route unregistered. A nil UploadLimit leaves
// uploads unthrottled.
type Deps struct {
	Logger         *slog.Logger
	Intake         IntakeService
	Notes          NoteService
	Review         ReviewService
	Callbacks      CallbackReceiver
	Directory      DirectoryService
	Readiness      ReadinessChecker
	Tokens         auth.ActorValidator
	UploadLimit    *ratelimit.Limiter
	Metrics        *metrics.HTTP
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	CallbackToken  string
	MaxUploadBytes int64
}

type Handler struct {
	logger         *slog.Logger
	intake         IntakeService
	notes          NoteService
	review         ReviewService
	callbacks      CallbackReceiver
	directory      DirectoryService
	readiness      ReadinessChecker
	tokens         auth.ActorValidator
	uploadLimit    *ratelimit.Limiter
	metrics        *metrics.HTTP
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	callbackToken  string
	maxUploadBytes int64
}

func New(deps Deps) *Handler {
	h := &Handler{
		logger:         deps.Logger,
		intake:         deps.Intake,
		notes:          deps.Notes,
		review:         deps.Review,
		callbacks:      deps.Callbacks,
		directory:      deps.Directory,
		readiness:      deps.Readiness,
		tokens:         deps.Tokens,
		uploadLimit:    deps.UploadLimit,
		metrics:        deps.Metrics,
		gatherer:       deps.Gatherer,
		allowedOrigins: deps.AllowedOrigins,
		callbackToken:  deps.CallbackToken,
		maxUploadBytes: deps.MaxUploadBytes,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}
	return h
}

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(h.logger))
	r.Use(request.AccessLog(h.logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", request.HeaderRequestID},
		ExposedHeaders:   []string{request.HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if h.callbacks != nil {
			r.Post("/transcriptions/callback", h.handleTranscriptionCallback)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireActor(h.tokens, h.logger))

			r.Group(func(r chi.Router) {
				r.Use(role.Require(h.logger, id.RoleDoctor))
				r.With(h.uploadThrottle()...).Post("/uploads", h.handleUpload)
				r.Post("/case-notes", h.handleCreateNote)
				r.Post("/case-notes/{id}/revisions", h.handleReviseNote)
				r.Post("/case-notes/{id}/replacement", h.handleReplaceRejected)
				r.Post("/case-notes/{id}/override", h.handleManualOverride)
			})

			r.Group(func(r chi.Router) {
				r.Use(role.Require(h.logger, id.RoleDoctor, id.RoleAdmin))
				r.Get("/case-notes/{id}", h.handleGetNote)
				r.Post("/case-notes/{id}/redispatch", h.handleRedispatch)
				r.Get("/patients/{id}", h.handleGetPatient)
				r.Get("/patients/{id}/case-notes", h.handlePatientHistory)
				r.Get("/users/{id}", h.handleGetUser)
				r.Get("/review/pending", h.handleReviewPending)
				r.Post("/review/{id}/decision", h.handleReviewDecision)
			})

			r.Group(func(r chi.Router) {
				r.Use(role.Require(h.logger, id.RoleAdmin))
				r.Post("/patients", h.handleRegisterPatient)
				r.Patch("/patients/{id}", h.handleCorrectPatient)
				r.Post("/users", h.handleRegisterUser)
			})
		})
	})
	return r
}

func (h *Handler) uploadThrottle() []func(http.Handler) http.Handler {
	if h.uploadLimit == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{h.uploadLimit.PerActor(h.logger)}
}
