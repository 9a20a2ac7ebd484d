package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(&ProducerConfig{})
	assert.Error(t, err)

	_, err = NewProducer(nil)
	assert.Error(t, err)
}

func TestNewConsumer_RequiresGroupAndTopics(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ConsumerConfig
	}{
		{name: "nil", cfg: nil},
		{name: "no brokers", cfg: &ConsumerConfig{ConsumerGroup: "g", Topics: []string{"t"}}},
		{name: "no group", cfg: &ConsumerConfig{Brokers: []string{"localhost:9092"}, Topics: []string{"t"}}},
		{name: "no topics", cfg: &ConsumerConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConsumer(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestToRecord(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &kgo.Record{
		Topic:     "taskflow.analytics.recompute",
		Partition: 2,
		Offset:    41,
		Key:       []byte("tenant-a"),
		Value:     []byte(`{"project_id":1}`),
		Headers:   []kgo.RecordHeader{{Key: "tenant_id", Value: []byte("tenant-a")}},
		Timestamp: ts,
	}

	rec := toRecord(r)

	assert.Equal(t, "taskflow.analytics.recompute", rec.Topic)
	assert.Equal(t, int32(2), rec.Partition)
	assert.Equal(t, int64(41), rec.Offset)
	assert.Equal(t, "tenant-a", rec.Headers["tenant_id"])
	assert.Equal(t, ts, rec.Timestamp)
}
