package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka publishes events to a topic, keyed by job ID.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a producer for topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Kafka{writer: w}
}

func (k *Kafka) JobCompleted(ctx context.Context, ev Event) error {
	msg, err := eventMessage(ev)
	if err != nil {
		return err
	}
	return eris.Wrap(k.writer.WriteMessages(ctx, msg), "notify: kafka write")
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func eventMessage(ev Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, eris.Wrap(err, "notify: serialize event")
	}
	return kafkago.Message{
		Key:   []byte(ev.JobID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("job_completed")},
			{Key: "reason", Value: []byte(ev.Reason)},
			{Key: "completed_at", Value: []byte(ev.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
