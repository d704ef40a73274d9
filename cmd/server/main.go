package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/lifecycle"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/note"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/upload"
	"github.com/vishalp-65/patient-case-notes-system/internal/contentstore"
	dirservice "github.com/vishalp-65/patient-case-notes-system/internal/directory/service"
	dirstore "github.com/vishalp-65/patient-case-notes-system/internal/directory/store"
	"github.com/vishalp-65/patient-case-notes-system/internal/events"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	"github.com/vishalp-65/patient-case-notes-system/internal/intake"
	jwttoken "github.com/vishalp-65/patient-case-notes-system/internal/jwt_token"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/config"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/httpserver"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/infra"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/kafka"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/logger"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/metrics"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/postgres"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/readiness"
	"github.com/vishalp-65/patient-case-notes-system/internal/ratelimit"
	"github.com/vishalp-65/patient-case-notes-system/internal/review"
	"github.com/vishalp-65/patient-case-notes-system/internal/transcription"
	httptransport "github.com/vishalp-65/patient-case-notes-system/internal/transport/http"
	audit "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/outbox"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/publisher"
	auditmemory "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/store/memory"
	auditpostgres "github.com/vishalp-65/patient-case-notes-system/pkg/platform/audit/store/postgres"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Server.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	deps, err := infra.Open(ctx, cfg)
	defer func() {
		if cerr := deps.Close(); cerr != nil {
			log.Warn("closing infrastructure", "error", cerr)
		}
	}()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checker := readiness.New(deps.Pingables(), readiness.WithRegisterer(reg))
	report := checker.CheckAll(ctx)
	for _, line := range report.Lines() {
		log.Info(line)
	}
	if !report.Healthy() {
		return errors.New(report.Summary())
	}

	if deps.DB != nil {
		if err := postgres.Migrate(ctx, deps.DB.DB); err != nil {
			return err
		}
	}
	if deps.Producer != nil {
		if err := deps.Producer.EnsureTopics(ctx, 3, 1, cfg.Kafka.IntakeTopic, cfg.Kafka.AuditTopic); err != nil {
			return err
		}
	}

	a, err := wire(cfg, deps, reg, log)
	if err != nil {
		return err
	}
	defer a.audit.Close()

	var consumer *kafka.Consumer
	if deps.Producer != nil {
		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.IntakeTopic, log)
		if err != nil {
			return err
		}
	}

	router := httptransport.New(httptransport.Deps{
		Logger:         log,
		Intake:         a.intake,
		Notes:          a.manager,
		Review:         a.review,
		Callbacks:      a.callbacks,
		Directory:      a.directory,
		Readiness:      checker,
		Tokens:         jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer),
		UploadLimit:    uploadLimiter(cfg.RateLimit, deps, reg),
		Metrics:        metrics.NewHTTP(reg),
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		CallbackToken:  cfg.Transcription.CallbackToken,
		MaxUploadBytes: cfg.Intake.MaxFileSizeBytes,
	}).Router()
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting patient case notes service", "addr", cfg.Server.Addr, "transcription_mode", cfg.Transcription.Mode)
		return httpserver.ListenAndServe(srv)
	})
	if a.outbox != nil {
		g.Go(func() error { return a.outbox.Run(gctx) })
	}
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx, events.IntakeHandler(a.dispatcher, log))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		var errs []error
		errs = append(errs, srv.Shutdown(shutdownCtx))
		if consumer != nil {
			consumer.Close()
		}
		errs = append(errs, a.dispatcher.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})
	return g.Wait()
}

// uploadLimiter shares windows through Redis when it is configured.
func uploadLimiter(cfg config.RateLimitConfig, deps *infra.Infra, reg prometheus.Registerer) *ratelimit.Limiter {
	if cfg.UploadsPerWindow == 0 {
		return nil
	}
	var store ratelimit.Store = ratelimit.NewInMemoryStore()
	if deps.Redis != nil {
		store = ratelimit.NewRedisStore(deps.Redis.Client)
	}
	return ratelimit.NewLimiter(store, "uploads", cfg.UploadsPerWindow, cfg.Window,
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)))
}

type uploadStore interface {
	lifecycle.UploadStore
	intake.UploadStore
}

type contentStore interface {
	intake.ContentWriter
	transcription.ContentReader
}

type app struct {
	manager    *lifecycle.Manager
	dispatcher *transcription.Dispatcher
	intake     *intake.Service
	review     *review.Service
	directory  *dirservice.Service
	audit      *publisher.Publisher
	outbox     *outbox.Worker
	callbacks  httptransport.CallbackReceiver
}

// wire builds the services over Postgres, S3, Redis and Kafka when they are
// configured, and over in-memory stores otherwise.
func wire(cfg config.Config, deps *infra.Infra, reg prometheus.Registerer, log *slog.Logger) (*app, error) {
	a := &app{}

	var (
		notes    lifecycle.NoteStore
		uploads  uploadStore
		patients dirservice.PatientStore
		users    dirservice.UserStore
		auditLog audit.Store
		tx       lifecycle.StoreTx
	)
	if deps.DB != nil {
		notes = note.NewPostgres(deps.DB.DB)
		uploads = upload.NewPostgres(deps.DB.DB)
		patients = dirstore.NewPostgresPatients(deps.DB.DB)
		users = dirstore.NewPostgresUsers(deps.DB.DB)
		pgAudit := auditpostgres.New(deps.DB.DB)
		auditLog = pgAudit
		tx = postgres.NewTxRunner(deps.DB.DB)
		if deps.Producer != nil {
			a.outbox = outbox.NewWorker(pgAudit, deps.Producer, cfg.Kafka.AuditTopic,
				outbox.WithLogger(log),
				outbox.WithInterval(cfg.Outbox.PollInterval),
				outbox.WithBatchSize(cfg.Outbox.BatchSize),
			)
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		notes = note.NewInMemory()
		uploads = upload.NewInMemory()
		patients = dirstore.NewInMemoryPatients()
		users = dirstore.NewInMemoryUsers()
		auditLog = auditmemory.NewInMemoryStore()
		tx = lifecycle.NewShardedTx()
	}

	var content contentStore
	if deps.S3 != nil {
		content = deps.S3
	} else {
		log.Warn("S3_BUCKET not set, document content is kept in memory")
		content = contentstore.NewInMemory()
	}

	a.audit = publisher.NewPublisher(auditLog, publisher.WithLogger(log))
	a.directory = dirservice.New(patients, users,
		dirservice.WithLogger(log),
		dirservice.WithAuditPublisher(a.audit),
	)

	g, err := gate.New(cfg.Gate.Threshold)
	if err != nil {
		return nil, err
	}
	a.manager = lifecycle.New(notes, uploads, g,
		lifecycle.WithLogger(log),
		lifecycle.WithAuditPublisher(a.audit),
		lifecycle.WithMetrics(lifecycle.NewMetrics(reg)),
		lifecycle.WithTx(tx),
		lifecycle.WithDirectory(a.directory),
	)

	clientOpts := []transcription.HTTPOption{transcription.WithHTTPLogger(log)}
	if cfg.Transcription.Mode == config.ModePush {
		clientOpts = append(clientOpts, transcription.WithCallback(cfg.Transcription.CallbackURL, cfg.Transcription.CallbackToken))
	}
	if cfg.Transcription.BaseURL == "" {
		log.Warn("TRANSCRIPTION_BASE_URL not set, scanned notes will fail transcription and route to review")
	}
	dispatchOpts := []transcription.Option{
		transcription.WithLogger(log),
		transcription.WithMetrics(transcription.NewMetrics(reg)),
	}
	if deps.Redis != nil {
		dispatchOpts = append(dispatchOpts, transcription.WithLedger(transcription.NewRedisLedger(deps.Redis.Client)))
	}
	a.dispatcher = transcription.NewDispatcher(
		transcription.NewHTTPClient(cfg.Transcription.BaseURL, clientOpts...),
		content, a.manager, cfg.Transcription, dispatchOpts...,
	)
	if cfg.Transcription.Mode == config.ModePush {
		a.callbacks = a.dispatcher
	}

	a.manager.SetCanceller(a.dispatcher)
	if deps.Producer != nil {
		a.manager.SetScheduler(events.NewKafkaScheduler(deps.Producer, cfg.Kafka.IntakeTopic))
	} else {
		a.manager.SetScheduler(a.dispatcher)
	}

	a.intake = intake.New(uploads, content, a.manager, cfg.Intake,
		intake.WithLogger(log),
		intake.WithAuditPublisher(a.audit),
		intake.WithDirectory(a.directory),
		intake.WithMetrics(intake.NewMetrics(reg)),
	)
	a.review = review.New(a.manager,
		review.WithLogger(log),
		review.WithMetrics(review.NewMetrics(reg)),
	)
	return a, nil
}
