package messaging

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/infrastructure/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaEventPublisher forwards domain events to a Kafka topic. It implements
// shared.EventHandler so it can be subscribed to the event bus: events flow
// aggregate -> outbox -> bus -> Kafka, and downstream consumers (payout,
// analytics, notifications) read them off the topic.
//
// Messages are keyed by aggregate ID so all events for one account or
// invoice land on the same partition in order.
type KafkaEventPublisher struct {
	writer     *kafka.Writer
	serializer EventSerializer
	logger     *zap.Logger
}

// EventSerializer turns a domain event into its wire payload
type EventSerializer interface {
	Serialize(event shared.DomainEvent) ([]byte, error)
}

// NewKafkaEventPublisher creates a publisher for the configured brokers and topic
func NewKafkaEventPublisher(cfg config.KafkaConfig, serializer EventSerializer, logger *zap.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
		serializer: serializer,
		logger:     logger.Named("kafka-publisher"),
	}
}

// Handle implements shared.EventHandler
func (p *KafkaEventPublisher) Handle(ctx context.Context, event shared.DomainEvent) error {
	payload, err := p.serializer.Serialize(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID().String()),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID().String())},
			{Key: "event_type", Value: []byte(event.EventType())},
			{Key: "aggregate_type", Value: []byte(event.AggregateType())},
			{Key: "tenant_id", Value: []byte(event.TenantID().String())},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event to kafka",
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventID().String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// EventTypes implements shared.EventHandler. An empty slice subscribes the
// publisher to every event type.
func (p *KafkaEventPublisher) EventTypes() []string {
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}

var _ shared.EventHandler = (*KafkaEventPublisher)(nil)
