// Package events carries intake-completed events between the lifecycle
// manager and the transcription dispatcher over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/kafka"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Scheduler is the receiving end of an intake-completed event.
type Scheduler interface {
	Schedule(ctx context.Context, event models.IntakeCompleted) error
}

// KafkaScheduler publishes intake-completed events keyed by upload so all
// events for one upload land on the same partition.
type KafkaScheduler struct {
	producer Publisher
	topic    string
}

func NewKafkaScheduler(producer Publisher, topic string) *KafkaScheduler {
	return &KafkaScheduler{producer: producer, topic: topic}
}

func (k *KafkaScheduler) Schedule(ctx context.Context, event models.IntakeCompleted) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode intake event: %w", err)
	}
	return k.producer.Publish(ctx, k.topic, []byte(event.FileUploadID.String()), value)
}

// IntakeHandler decodes intake-completed records and schedules them on
// target. Undecodable records are logged and skipped so one bad record
// cannot stall the partition.
func IntakeHandler(target Scheduler, logger *slog.Logger) kafka.Handler {
	return func(ctx context.Context, rec *kgo.Record) error {
		var event models.IntakeCompleted
		if err := json.Unmarshal(rec.Value, &event); err != nil {
			logger.ErrorContext(ctx, "dropping undecodable intake event",
				"topic", rec.Topic,
				"partition", rec.Partition,
				"offset", rec.Offset,
				"error", err,
			)
			return nil
		}
		if event.FileUploadID.IsNil() || event.CaseNoteID.IsNil() {
			logger.ErrorContext(ctx, "dropping intake event without identifiers", "offset", rec.Offset)
			return nil
		}
		return target.Schedule(ctx, event)
	}
}
