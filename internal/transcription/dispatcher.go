package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/contentstore"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/config"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

// Lifecycle receives dispatch outcomes.
type Lifecycle interface {
	ApplyTranscription(ctx context.Context, noteID id.CaseNoteID, text string, score float64) (*models.CaseNote, gate.Decision, error)
	MarkTranscriptionFailed(ctx context.Context, noteID id.CaseNoteID, reason string) (*models.CaseNote, error)
}

// ContentReader fetches stored document bytes.
type ContentReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ledgerGrace keeps a lease alive a little past the request timeout. The
// dispatch releases it before recording its outcome.
const ledgerGrace = 30 * time.Second

// Handle tracks one outstanding dispatch.
type Handle struct {
	UploadID id.FileUploadID
	NoteID   id.CaseNoteID

	token     string
	requestID string // guarded by Dispatcher.mu
	cancel    context.CancelCauseFunc
	done      chan struct{}
	results   chan Status
	released  sync.Once
}

// Done is closed once the outcome has been handed to the lifecycle manager.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Dispatcher runs at most one transcription per upload. Dispatch returns
// immediately; the request, its retries and the wait for a result run on a
// goroutine bounded by the configured request timeout.
type Dispatcher struct {
	client    Client
	content   ContentReader
	lifecycle Lifecycle
	ledger    Ledger
	cfg       config.TranscriptionConfig
	logger    *slog.Logger
	metrics   *Metrics

	mu        sync.Mutex
	byUpload  map[id.FileUploadID]*Handle
	byRequest map[string]*Handle
	stopped   bool
	wg        sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLedger shares the outstanding-request ledger between processes.
// Defaults to an in-memory ledger.
func WithLedger(l Ledger) Option {
	return func(d *Dispatcher) {
		d.ledger = l
	}
}

func NewDispatcher(client Client, content ContentReader, lifecycle Lifecycle, cfg config.TranscriptionConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:    client,
		content:   content,
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    slog.Default(),
		byUpload:  make(map[id.FileUploadID]*Handle),
		byRequest: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.ledger == nil {
		d.ledger = NewInMemoryLedger()
	}
	return d
}

// Schedule dispatches event, treating an already outstanding request as
// success. It satisfies the lifecycle scheduler.
func (d *Dispatcher) Schedule(ctx context.Context, event models.IntakeCompleted) error {
	_, err := d.Dispatch(ctx, event)
	if errors.Is(err, ErrAlreadyDispatched) {
		return nil
	}
	return err
}

// Dispatch starts a transcription for event and returns its handle. The
// work is detached from ctx's cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.IntakeCompleted) (*Handle, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeExternalService, "transcription dispatcher is stopped")
	}
	if _, ok := d.byUpload[event.FileUploadID]; ok {
		d.mu.Unlock()
		d.metrics.dispatch("duplicate")
		return nil, ErrAlreadyDispatched
	}
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	h := &Handle{
		UploadID: event.FileUploadID,
		NoteID:   event.CaseNoteID,
		token:    uuid.NewString(),
		cancel:   cancel,
		done:     make(chan struct{}),
		results:  make(chan Status, 1),
	}
	d.byUpload[event.FileUploadID] = h
	// Counted while registered so Shutdown waits for it.
	d.wg.Add(1)
	d.mu.Unlock()

	acquired, err := d.ledger.Acquire(ctx, event.FileUploadID, h.token, d.cfg.RequestTimeout+ledgerGrace)
	if err != nil || !acquired {
		d.forget(h)
		cancel(nil)
		d.wg.Done()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStorage, "failed to record outstanding transcription")
		}
		d.metrics.dispatch("duplicate")
		return nil, ErrAlreadyDispatched
	}

	d.metrics.dispatch("started")
	d.metrics.inFlight(1)
	go d.run(runCtx, h, event)
	return h, nil
}

// Cancel aborts the outstanding dispatch for uploadID. The note is marked
// failed unless it has already moved on.
func (d *Dispatcher) Cancel(uploadID id.FileUploadID) bool {
	d.mu.Lock()
	h, ok := d.byUpload[uploadID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel(errCancelled)
	return true
}

// InFlight reports whether this process has an outstanding dispatch for uploadID.
func (d *Dispatcher) InFlight(uploadID id.FileUploadID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byUpload[uploadID]
	return ok
}

// Deliver hands a pushed result to the dispatch waiting on requestID.
func (d *Dispatcher) Deliver(ctx context.Context, requestID string, st Status) error {
	if st.State != StateCompleted && st.State != StateFailed {
		return dErrors.New(dErrors.CodeValidation, "callback status must be completed or failed")
	}
	d.mu.Lock()
	h, ok := d.byRequest[requestID]
	d.mu.Unlock()
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "no outstanding transcription for request")
	}
	select {
	case h.results <- st:
		return nil
	default:
		return dErrors.New(dErrors.CodeConflict, "result already delivered")
	}
}

// Shutdown stops accepting work, cancels outstanding dispatches and waits
// for their outcomes to be recorded.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	for _, h := range d.byUpload {
		h.cancel(errStopped)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, h *Handle, event models.IntakeCompleted) {
	start := time.Now()
	defer func() {
		d.release(ctx, h)
		d.metrics.inFlight(-1)
		close(h.done)
		d.wg.Done()
	}()

	ctx, cancel := context.WithTimeoutCause(ctx, d.cfg.RequestTimeout, errTimedOut)
	defer cancel()
	data, err := d.content.Get(ctx, event.StorageKey)
	if err != nil {
		d.fail(ctx, h, start, d.reason(ctx, "stored document could not be read"), err)
		return
	}
	if !contentstore.VerifyChecksum(data, event.Checksum) {
		d.fail(ctx, h, start, "stored document failed checksum verification", nil)
		return
	}

	var result Status
	attempt := func() error {
		d.metrics.attempt()
		reqID, err := d.client.Submit(ctx, data, event.MimeType)
		if err != nil {
			return classify(err)
		}
		d.track(h, reqID)
		st, err := d.await(ctx, h, reqID)
		if err != nil {
			return err
		}
		result = st
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.logger.WarnContext(ctx, "transcription attempt failed",
			"case_note_id", h.NoteID,
			"file_upload_id", h.UploadID,
			"retry_in", wait,
			"error", err,
		)
	}
	if err := backoff.RetryNotify(attempt, d.policy(ctx), notify); err != nil {
		d.fail(ctx, h, start, d.reason(ctx, "transcription service failed after retries"), err)
		return
	}

	d.release(ctx, h)
	_, decision, err := d.lifecycle.ApplyTranscription(context.WithoutCancel(ctx), h.NoteID, result.Text, result.Score)
	switch {
	case err == nil:
		d.metrics.outcome("completed", start)
		d.logger.InfoContext(ctx, "transcription completed",
			"case_note_id", h.NoteID,
			"decision", decision,
		)
	case dErrors.HasCode(err, dErrors.CodeInvalidScore):
		d.metrics.outcome("invalid_score", start)
		d.logger.WarnContext(ctx, "transcription returned out-of-range score",
			"case_note_id", h.NoteID,
			"score", result.Score,
		)
	default:
		d.settleErr(ctx, h, start, err)
	}
}

// policy is the retry budget: MaxAttempts tries with capped exponential
// waits, cut short by ctx.
func (d *Dispatcher) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.BackoffBase
	b.Multiplier = d.cfg.BackoffFactor
	b.MaxInterval = d.cfg.BackoffCap
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	retries := 0
	if d.cfg.MaxAttempts > 1 {
		retries = d.cfg.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// await waits for the provider's verdict on reqID by polling or by push.
func (d *Dispatcher) await(ctx context.Context, h *Handle, reqID string) (Status, error) {
	if d.cfg.Mode == config.ModePush {
		select {
		case <-ctx.Done():
			return Status{}, backoff.Permanent(context.Cause(ctx))
		case st := <-h.results:
			return verdict(st)
		}
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Status{}, backoff.Permanent(context.Cause(ctx))
		case <-ticker.C:
		}
		st, err := d.client.Status(ctx, reqID)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return Status{}, err
			}
			d.logger.DebugContext(ctx, "transcription status poll failed",
				"case_note_id", h.NoteID,
				"error", err,
			)
			continue
		}
		if st.State == StatePending {
			continue
		}
		return verdict(st)
	}
}

func verdict(st Status) (Status, error) {
	if st.State == StateFailed {
		reason := st.Reason
		if reason == "" {
			reason = "unspecified"
		}
		return Status{}, fmt.Errorf("provider reported failure: %s", reason)
	}
	return st, nil
}

// classify stops the retry loop for errors a retry cannot fix.
func classify(err error) error {
	if errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	return err
}

// track swaps the push-mode registration from the previous attempt's
// request to reqID.
func (d *Dispatcher) track(h *Handle, reqID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.requestID != "" && d.byRequest[h.requestID] == h {
		delete(d.byRequest, h.requestID)
	}
	h.requestID = reqID
	d.byRequest[reqID] = h
}

func (d *Dispatcher) forget(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byUpload[h.UploadID] == h {
		delete(d.byUpload, h.UploadID)
	}
	if h.requestID != "" && d.byRequest[h.requestID] == h {
		delete(d.byRequest, h.requestID)
	}
}

// release drops h from the registry and the ledger once. It runs before the
// terminal lifecycle write, so a redispatch triggered by that write finds
// the upload free.
func (d *Dispatcher) release(ctx context.Context, h *Handle) {
	h.released.Do(func() {
		d.forget(h)
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := d.ledger.Release(releaseCtx, h.UploadID, h.token); err != nil {
			d.logger.WarnContext(ctx, "failed to release transcription lease",
				"file_upload_id", h.UploadID,
				"error", err,
			)
		}
	})
}

// reason prefers the cause of ctx ending over the generic failure text.
func (d *Dispatcher) reason(ctx context.Context, fallback string) string {
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errTimedOut):
		return fmt.Sprintf("no transcription result within %s", d.cfg.RequestTimeout)
	case errors.Is(cause, errCancelled), errors.Is(cause, errStopped):
		return cause.Error()
	default:
		return fallback
	}
}

// fail records a terminal failure. ctx may already be done; the lifecycle
// write runs without its cancellation.
func (d *Dispatcher) fail(ctx context.Context, h *Handle, start time.Time, reason string, cause error) {
	outcome := "failed"
	switch c := context.Cause(ctx); {
	case errors.Is(c, errTimedOut):
		outcome = "timeout"
	case errors.Is(c, errCancelled), errors.Is(c, errStopped):
		outcome = "cancelled"
	}
	logArgs := []any{"case_note_id", h.NoteID, "file_upload_id", h.UploadID, "reason", reason}
	if cause != nil {
		logArgs = append(logArgs, "error", cause)
	}
	d.logger.WarnContext(ctx, "transcription dispatch failed", logArgs...)

	d.release(ctx, h)
	if _, err := d.lifecycle.MarkTranscriptionFailed(context.WithoutCancel(ctx), h.NoteID, reason); err != nil {
		d.settleErr(ctx, h, start, err)
		return
	}
	d.metrics.outcome(outcome, start)
}

// settleErr logs a lifecycle write that did not apply. A stale note has
// already been resolved by someone else and is not an error.
func (d *Dispatcher) settleErr(ctx context.Context, h *Handle, start time.Time, err error) {
	if dErrors.HasCode(err, dErrors.CodeStaleState) {
		d.metrics.outcome("stale", start)
		d.logger.InfoContext(ctx, "transcription outcome ignored, note already resolved",
			"case_note_id", h.NoteID,
		)
		return
	}
	d.metrics.outcome("error", start)
	d.logger.ErrorContext(ctx, "failed to record transcription outcome",
		"case_note_id", h.NoteID,
		"error", err,
	)
}
