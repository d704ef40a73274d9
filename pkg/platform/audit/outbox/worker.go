// Package outbox relays audit rows written by the Postgres audit store to the
// message broker.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Entry is one outbox row.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Store claims pending rows and marks the ones publish accepted.
type Store interface {
	ProcessPending(ctx context.Context, limit int, publish func(context.Context, Entry) error) (int, error)
}

// Producer writes one record to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Worker struct {
	store     Store
	producer  Producer
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func NewWorker(store Store, producer Producer, topic string, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		producer:  producer,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is done. Publish failures are logged and retried on the
// next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "outbox relay failed", "error", err)
			}
		}
	}
}

// ProcessOnce relays one batch and returns how many rows were published.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	n, err := w.store.ProcessPending(ctx, w.batchSize, func(ctx context.Context, e Entry) error {
		return w.producer.Publish(ctx, w.topic, []byte(e.AggregateID), e.Payload)
	})
	if n > 0 {
		w.logger.DebugContext(ctx, "outbox batch relayed", "count", n, "topic", w.topic)
	}
	return n, err
}
