package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/pkg/kafka"
	"github.com/prohmpiriya/taskflow/pkg/logger"
)

// MessageProducer is satisfied by *kafka.Producer
type MessageProducer interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// KafkaPublisher writes events to Kafka keyed by tenant id, so events of one
// tenant stay ordered within a partition
type KafkaPublisher struct {
	producer           MessageProducer
	analyticsTopic     string
	notificationsTopic string
}

// NewKafkaPublisher creates a publisher
func NewKafkaPublisher(producer MessageProducer, analyticsTopic, notificationsTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer:           producer,
		analyticsTopic:     analyticsTopic,
		notificationsTopic: notificationsTopic,
	}
}

// Topic returns the destination topic of an event type
func (p *KafkaPublisher) Topic(t EventType) (string, error) {
	switch t {
	case EventRecomputeSnapshot:
		return p.analyticsTopic, nil
	case EventNotifyAssignment, EventNotifyStatusChange:
		return p.notificationsTopic, nil
	default:
		return "", fmt.Errorf("unknown event type %q", t)
	}
}

// Publish implements Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, e *Event) error {
	topic, err := p.Topic(e.Type)
	if err != nil {
		return err
	}
	value, err := e.Encode()
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return p.producer.Publish(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(e.TenantID),
		Value: value,
		Headers: map[string]string{
			"event_id":   e.ID,
			"event_type": string(e.Type),
			"tenant_id":  e.TenantID,
		},
	})
}

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogPublisher{log: log}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(ctx context.Context, e *Event) error {
	p.log.InfoContext(ctx, "event",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("tenant_id", e.TenantID),
		zap.Int64("project_id", e.ProjectID),
		zap.Int64("task_id", e.TaskID),
	)
	return nil
}
