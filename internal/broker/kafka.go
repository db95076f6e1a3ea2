// Package broker publishes committed booking events to Kafka.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"hotelbook/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes outbox events keyed by booking id, so every change of one booking
// lands on the same partition in commit order.
type KafkaSink struct {
	w       MessageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w, timeout: 10 * time.Second}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver writes synchronously; the outbox relay owns retries.
func (s *KafkaSink) Deliver(ctx context.Context, ev *models.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.BookingID),
		Value: []byte(ev.Payload),
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "outbox_id", Value: []byte(strconv.FormatInt(ev.ID, 10))},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s for %s: %w", ev.EventType, ev.BookingID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
