package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSender.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer that waits for all in-sync
// replicas. Messages are hashed by key so one referrer's notifications stay
// ordered on a single partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// KafkaSender publishes notifications as JSON records keyed by referrer.
type KafkaSender struct {
	w MessageWriter
}

// NewKafkaSender wraps w.
func NewKafkaSender(w MessageWriter) *KafkaSender { return &KafkaSender{w: w} }

// Send implements Sender.
func (k *KafkaSender) Send(ctx context.Context, n Notification) error {
	msg, err := toKafkaMessage(n)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, msg)
}

// Close flushes and closes the underlying writer.
func (k *KafkaSender) Close() error { return k.w.Close() }

func toKafkaMessage(n Notification) (kafka.Message, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(n.ReferrerUserID),
		Value: value,
		Time:  n.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}, nil
}
