package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/segmentio/kafka-go"
)

// JobEvent announces the terminal outcome of an ingest job
type JobEvent struct {
	JobID          string                 `json:"job_id"`
	OwnerScope     string                 `json:"owner_scope"`
	SourceType     domain.SourceType      `json:"source_type"`
	SourceID       string                 `json:"source_id"`
	Status         domain.IngestJobStatus `json:"status"`
	RecordCount    int                    `json:"record_count"`
	FailedOrdinals []int                  `json:"failed_ordinals"`
	Error          string                 `json:"error,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// NewJobEvent builds the event for a job in its final state
func NewJobEvent(job *domain.IngestJob, at time.Time) JobEvent {
	failed := job.FailedOrdinals
	if failed == nil {
		failed = []int{}
	}
	return JobEvent{
		JobID:          job.ID,
		OwnerScope:     job.OwnerScope,
		SourceType:     job.SourceType,
		SourceID:       job.SourceID,
		Status:         job.Status,
		RecordCount:    job.RecordCount,
		FailedOrdinals: failed,
		Error:          job.Error,
		OccurredAt:     at.UTC(),
	}
}

// Publisher delivers job events to interested collaborators
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NoopPublisher) Close() error                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds configuration for KafkaPublisher
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes job events as JSON to a Kafka topic, keyed by job ID
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for the given brokers and topic
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event JobEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.JobID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(event.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
