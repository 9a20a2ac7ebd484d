package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ProducerConfig holds producer settings
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	Linger   time.Duration
}

// Message is a record to publish
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes records synchronously
type Producer struct {
	client *kgo.Client
}

// NewProducer creates a franz-go client configured for producing
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(cfg.Linger))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer: %w", err)
	}
	return &Producer{client: client}, nil
}

// Publish writes one message and waits for the broker ack
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	rec := &kgo.Record{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: publish to %s failed: %w", msg.Topic, err)
	}
	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the client
func (p *Producer) Close() {
	p.client.Close()
}

// ConsumerConfig holds consumer group settings
type ConsumerConfig struct {
	Brokers       []string
	ClientID      string
	ConsumerGroup string
	Topics        []string
}

// Record is a consumed record handed to a Handler
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one record. A returned error is reported to OnError and
// the record is still committed, so handlers retry transient failures
// themselves before returning.
type Handler func(ctx context.Context, rec Record) error

// Consumer reads a consumer group and commits after each poll batch
type Consumer struct {
	client  *kgo.Client
	OnError func(rec Record, err error)
}

// NewConsumer creates a group consumer with manual commits
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.ConsumerGroup == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("kafka: consumer group and topics are required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Run polls until ctx is cancelled or the client is closed
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return nil
			}
			if c.OnError != nil {
				c.OnError(Record{Topic: fe.Topic, Partition: fe.Partition}, fe.Err)
			}
		}

		var polled []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			polled = append(polled, r)
			rec := toRecord(r)
			if err := handle(ctx, rec); err != nil && c.OnError != nil {
				c.OnError(rec, err)
			}
		})

		if len(polled) > 0 {
			if err := c.client.CommitRecords(ctx, polled...); err != nil && c.OnError != nil {
				c.OnError(Record{}, fmt.Errorf("kafka: commit failed: %w", err))
			}
		}
	}
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	c.client.Close()
}

func toRecord(r *kgo.Record) Record {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Record{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}
