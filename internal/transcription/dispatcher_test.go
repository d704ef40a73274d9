package transcription_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/lifecycle"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/note"
	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/store/upload"
	"github.com/vishalp-65/patient-case-notes-system/internal/contentstore"
	"github.com/vishalp-65/patient-case-notes-system/internal/gate"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/config"
	"github.com/vishalp-65/patient-case-notes-system/internal/transcription"
	"github.com/vishalp-65/patient-case-notes-system/internal/transcription/mocks"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client
type DispatcherSuite struct {
	suite.Suite
	ctx     context.Context
	client  *mocks.MockClient
	content *contentstore.InMemoryStore
	uploads *upload.InMemoryStore
	manager *lifecycle.Manager
	cfg     config.TranscriptionConfig
	data    []byte
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, models.IntakeCompleted) error { return nil }

func (s *DispatcherSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.ctx = context.Background()
	s.client = mocks.NewMockClient(ctrl)
	s.content = contentstore.NewInMemory()
	s.uploads = upload.NewInMemory()
	g, err := gate.New(gate.DefaultThreshold)
	s.Require().NoError(err)
	s.manager = lifecycle.New(note.NewInMemory(), s.uploads, g, lifecycle.WithScheduler(noopScheduler{}))
	s.cfg = config.TranscriptionConfig{
		Mode:           config.ModePoll,
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffFactor:  2,
		BackoffCap:     5 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
	s.data = []byte("%PDF-1.7 scanned page")
}

func (s *DispatcherSuite) dispatcher() *transcription.Dispatcher {
	d := transcription.NewDispatcher(s.client, s.content, s.manager, s.cfg,
		transcription.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		transcription.WithMetrics(transcription.NewMetrics(prometheus.NewRegistry())),
	)
	s.manager.SetCanceller(d)
	return d
}

// pending stores a document and its pending note and returns the event the
// dispatcher would receive.
func (s *DispatcherSuite) pending() models.IntakeCompleted {
	now := time.Now()
	u := models.NewPendingUpload(id.NewFileUploadID(), id.NewUserID(), id.NewPatientID(), "scan.pdf", "application/pdf", int64(len(s.data)), now)
	key := contentstore.NewKey(u.ID)
	s.Require().NoError(s.content.Put(s.ctx, key, s.data))
	u.ApplyCompleted(key, contentstore.Checksum(s.data), now)
	s.Require().NoError(s.uploads.Create(s.ctx, u))
	n, err := s.manager.CreateScanned(s.ctx, u)
	s.Require().NoError(err)
	return models.IntakeCompletedFor(u, n.ID, now)
}

func (s *DispatcherSuite) wait(h *transcription.Handle) {
	s.Require().NotNil(h)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		s.FailNow("dispatch did not finish")
	}
}

func (s *DispatcherSuite) note(event models.IntakeCompleted) *models.CaseNote {
	n, err := s.manager.Get(s.ctx, event.CaseNoteID)
	s.Require().NoError(err)
	return n
}

func (s *DispatcherSuite) expectSubmit(requestID string) *gomock.Call {
	return s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return(requestID, nil)
}

func (s *DispatcherSuite) TestPolledResultPublishes() {
	event := s.pending()
	s.expectSubmit("req-1")
	gomock.InOrder(
		s.client.EXPECT().Status(gomock.Any(), "req-1").Return(transcription.Status{State: transcription.StatePending}, nil),
		s.client.EXPECT().Status(gomock.Any(), "req-1").Return(transcription.Status{
			State: transcription.StateCompleted, Text: "Patient stable.", Score: 0.90,
		}, nil),
	)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)

	got := s.note(event)
	s.Equal(models.TranscriptionCompleted, got.TranscriptionStatus)
	s.False(got.RequiresReview)
	s.Equal("Patient stable.", got.Content)
}

func (s *DispatcherSuite) TestLowScoreGoesToReview() {
	event := s.pending()
	s.expectSubmit("req-2")
	s.client.EXPECT().Status(gomock.Any(), "req-2").Return(transcription.Status{
		State: transcription.StateCompleted, Text: "unclear", Score: 0.40,
	}, nil)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	s.Equal("scanned/completed/true", s.note(event).Triple())
}

func (s *DispatcherSuite) TestInvalidScoreGoesToReview() {
	event := s.pending()
	s.expectSubmit("req-3")
	s.client.EXPECT().Status(gomock.Any(), "req-3").Return(transcription.Status{
		State: transcription.StateCompleted, Text: "text", Score: 1.5,
	}, nil)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	got := s.note(event)
	s.True(got.RequiresReview)
	s.True(got.ScoreInvalid)
	s.Nil(got.ConfidenceScore)
}

func (s *DispatcherSuite) TestDispatchIsIdempotent() {
	event := s.pending()
	release := make(chan struct{})
	s.expectSubmit("req-4")
	s.client.EXPECT().Status(gomock.Any(), "req-4").DoAndReturn(func(context.Context, string) (transcription.Status, error) {
		<-release
		return transcription.Status{State: transcription.StateCompleted, Text: "ok", Score: 0.95}, nil
	})

	d := s.dispatcher()
	h, err := d.Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.True(d.InFlight(event.FileUploadID))

	_, err = d.Dispatch(s.ctx, event)
	s.ErrorIs(err, transcription.ErrAlreadyDispatched)
	s.NoError(d.Schedule(s.ctx, event))

	close(release)
	s.wait(h)
	s.False(d.InFlight(event.FileUploadID))
}

func (s *DispatcherSuite) TestLedgerHeldElsewhere() {
	event := s.pending()
	ledger := transcription.NewInMemoryLedger()
	ok, err := ledger.Acquire(s.ctx, event.FileUploadID, "other-instance", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	d := transcription.NewDispatcher(s.client, s.content, s.manager, s.cfg, transcription.WithLedger(ledger))
	_, err = d.Dispatch(s.ctx, event)
	s.ErrorIs(err, transcription.ErrAlreadyDispatched)
	s.False(d.InFlight(event.FileUploadID))
}

func (s *DispatcherSuite) TestRetriesTransientFailures() {
	event := s.pending()
	gomock.InOrder(
		s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("", errors.New("connection reset")),
		s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("", errors.New("503")),
		s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("req-5", nil),
	)
	s.client.EXPECT().Status(gomock.Any(), "req-5").Return(transcription.Status{
		State: transcription.StateCompleted, Text: "third time", Score: 0.91,
	}, nil)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	s.Equal("third time", s.note(event).Content)
}

func (s *DispatcherSuite) TestExhaustedRetriesFailNote() {
	event := s.pending()
	s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("", errors.New("unavailable")).Times(3)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	got := s.note(event)
	s.Equal("scanned/failed/true", got.Triple())
	s.Equal("transcription service failed after retries", got.FailureReason)
}

func (s *DispatcherSuite) TestProviderFailureIsRetried() {
	event := s.pending()
	s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("req-6", nil).Times(3)
	s.client.EXPECT().Status(gomock.Any(), "req-6").Return(transcription.Status{
		State: transcription.StateFailed, Reason: "unreadable scan",
	}, nil).Times(3)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	s.Equal(models.TranscriptionFailed, s.note(event).TranscriptionStatus)
}

func (s *DispatcherSuite) TestRejectedRequestIsNotRetried() {
	event := s.pending()
	s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").
		Return("", fmt.Errorf("%w: 415 Unsupported Media Type", transcription.ErrRejected)).Times(1)

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	s.Equal("scanned/failed/true", s.note(event).Triple())
}

func (s *DispatcherSuite) TestTimeoutFailsNote() {
	s.cfg.RequestTimeout = 50 * time.Millisecond
	event := s.pending()
	s.expectSubmit("req-7")
	s.client.EXPECT().Status(gomock.Any(), "req-7").Return(transcription.Status{State: transcription.StatePending}, nil).AnyTimes()

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	got := s.note(event)
	s.Equal(models.TranscriptionFailed, got.TranscriptionStatus)
	s.True(got.RequiresReview)
	s.Contains(got.FailureReason, "no transcription result within")
}

func (s *DispatcherSuite) TestChecksumMismatchSkipsProvider() {
	event := s.pending()
	event.Checksum = contentstore.Checksum([]byte("other bytes"))

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	got := s.note(event)
	s.Equal("scanned/failed/true", got.Triple())
	s.Equal("stored document failed checksum verification", got.FailureReason)
}

func (s *DispatcherSuite) TestMissingContentFailsNote() {
	event := s.pending()
	event.StorageKey = "uploads/missing"

	h, err := s.dispatcher().Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	s.Equal(models.TranscriptionFailed, s.note(event).TranscriptionStatus)
}

func (s *DispatcherSuite) TestCancelFailsNote() {
	event := s.pending()
	s.expectSubmit("req-8").MaxTimes(1)
	s.client.EXPECT().Status(gomock.Any(), "req-8").Return(transcription.Status{State: transcription.StatePending}, nil).AnyTimes()

	d := s.dispatcher()
	h, err := d.Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.True(d.Cancel(event.FileUploadID))
	s.wait(h)

	got := s.note(event)
	s.Equal("scanned/failed/true", got.Triple())
	s.Equal("transcription dispatch cancelled", got.FailureReason)
	s.False(d.Cancel(event.FileUploadID))
}

func (s *DispatcherSuite) TestSupersededNoteStaysSuperseded() {
	event := s.pending()
	s.expectSubmit("req-9").MaxTimes(1)
	s.client.EXPECT().Status(gomock.Any(), "req-9").Return(transcription.Status{State: transcription.StatePending}, nil).AnyTimes()

	d := s.dispatcher()
	h, err := d.Dispatch(s.ctx, event)
	s.Require().NoError(err)

	replacement, err := s.manager.ManualOverride(s.ctx, event.CaseNoteID, event.DoctorID, "typed by hand")
	s.Require().NoError(err)
	s.wait(h)

	got := s.note(event)
	s.Equal(models.StateSuperseded, got.State)
	s.Equal(replacement.ID, *got.SupersededBy)
	s.False(got.RequiresReview)
	s.Equal(models.TranscriptionFailed, got.TranscriptionStatus)
	s.Equal(models.OverrideCancelledReason, got.FailureReason)
}

func (s *DispatcherSuite) TestPushDelivery() {
	s.cfg.Mode = config.ModePush
	event := s.pending()
	s.expectSubmit("req-10")

	d := s.dispatcher()
	h, err := d.Dispatch(s.ctx, event)
	s.Require().NoError(err)

	result := transcription.Status{State: transcription.StateCompleted, Text: "pushed", Score: 0.88}
	s.Eventually(func() bool {
		return d.Deliver(s.ctx, "req-10", result) == nil
	}, 2*time.Second, time.Millisecond)
	s.wait(h)
	s.Equal("pushed", s.note(event).Content)

	err = d.Deliver(s.ctx, "req-10", result)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	err = d.Deliver(s.ctx, "req-10", transcription.Status{State: transcription.StatePending})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *DispatcherSuite) TestShutdownFailsOutstanding() {
	event := s.pending()
	s.expectSubmit("req-11").MaxTimes(1)
	s.client.EXPECT().Status(gomock.Any(), "req-11").Return(transcription.Status{State: transcription.StatePending}, nil).AnyTimes()

	d := s.dispatcher()
	h, err := d.Dispatch(s.ctx, event)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(d.Shutdown(ctx))
	s.wait(h)
	s.Equal(models.TranscriptionFailed, s.note(event).TranscriptionStatus)

	_, err = d.Dispatch(s.ctx, s.pending())
	s.True(dErrors.HasCode(err, dErrors.CodeExternalService))
}

// redispatchOnFailure asks for a fresh attempt from inside the first failure
// write, the way a doctor retrying immediately would.
type redispatchOnFailure struct {
	*lifecycle.Manager
	once sync.Once
	err  error
}

func (r *redispatchOnFailure) MarkTranscriptionFailed(ctx context.Context, noteID id.CaseNoteID, reason string) (*models.CaseNote, error) {
	n, err := r.Manager.MarkTranscriptionFailed(ctx, noteID, reason)
	if err != nil {
		return n, err
	}
	r.once.Do(func() {
		_, r.err = r.Manager.Redispatch(ctx, noteID)
	})
	return n, nil
}

func (s *DispatcherSuite) TestRedispatchDuringFailureWriteStartsNewAttempt() {
	event := s.pending()
	gomock.InOrder(
		s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("", errors.New("unavailable")).Times(3),
		s.expectSubmit("req-12"),
	)
	s.client.EXPECT().Status(gomock.Any(), "req-12").Return(transcription.Status{
		State: transcription.StateCompleted, Text: "second attempt", Score: 0.93,
	}, nil)

	lc := &redispatchOnFailure{Manager: s.manager}
	d := transcription.NewDispatcher(s.client, s.content, lc, s.cfg,
		transcription.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		transcription.WithMetrics(transcription.NewMetrics(prometheus.NewRegistry())),
	)
	s.manager.SetCanceller(d)
	s.manager.SetScheduler(d)

	h, err := d.Dispatch(s.ctx, event)
	s.Require().NoError(err)
	s.wait(h)
	s.Require().NoError(lc.err)

	s.Eventually(func() bool {
		return s.note(event).State == models.StatePublished
	}, 5*time.Second, 5*time.Millisecond)
	s.Equal("second attempt", s.note(event).Content)
	s.Eventually(func() bool { return !d.InFlight(event.FileUploadID) }, 2*time.Second, time.Millisecond)
}

func (s *DispatcherSuite) TestShutdownWaitsForConcurrentDispatches() {
	s.client.EXPECT().Submit(gomock.Any(), s.data, "application/pdf").Return("req-13", nil).AnyTimes()
	s.client.EXPECT().Status(gomock.Any(), "req-13").Return(transcription.Status{State: transcription.StatePending}, nil).AnyTimes()

	events := make([]models.IntakeCompleted, 20)
	for i := range events {
		events[i] = s.pending()
	}
	d := s.dispatcher()

	var (
		mu      sync.Mutex
		handles []*transcription.Handle
		wg      sync.WaitGroup
	)
	for _, event := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := d.Dispatch(s.ctx, event)
			if err != nil {
				return
			}
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
		}()
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(d.Shutdown(ctx))
	wg.Wait()

	// dispatches that started before the stop must be settled by now
	mu.Lock()
	defer mu.Unlock()
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			s.Failf("dispatch outlived shutdown", "upload %s", h.UploadID)
		}
	}
}
