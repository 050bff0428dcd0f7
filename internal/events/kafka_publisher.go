package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/pluree/api/internal/config"
)

// Lifecycle event types
const (
	TypeTrainingStarted = "training.started"
	TypeTrainingStatus  = "training.status"
	TypeTrainingEnded   = "training.ended"
)

// LifecycleEvent is the record published for every step of a training run
type LifecycleEvent struct {
	Type           string    `json:"type"`
	JobID          string    `json:"jobId"`
	CorrelationKey string    `json:"correlationKey"`
	Event          string    `json:"event"`
	Phase          string    `json:"phase,omitempty"`
	PipelineStatus string    `json:"pipelineStatus,omitempty"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	Busy           bool      `json:"busy"`
	At             time.Time `json:"at"`
}

// Publisher emits lifecycle events to the outside world
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
	Close() error
}

// NopPublisher drops every event. Used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

// KafkaPublisher writes lifecycle events to a Kafka topic, keyed by
// correlation key so one user's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer to the configured brokers
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Printf("✅ Kafka producer connected (topic: %s)", cfg.Topic)
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends one event and waits for the broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.CorrelationKey),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("❌ Kafka publish failed for job %s: %v", event.JobID, err)
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	log.Printf("[Kafka] %s job=%s partition=%d offset=%d", event.Type, event.JobID, partition, offset)
	return nil
}

// Close flushes and shuts down the producer
func (p *KafkaPublisher) Close() error {
	log.Println("Closing Kafka producer...")
	return p.producer.Close()
}
