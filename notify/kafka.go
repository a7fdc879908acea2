package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of a kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka appends every event to one topic keyed by exchange id, so the
// events of an exchange stay ordered within a partition.
type Kafka struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaWriter builds an asynchronous writer. Delivery errors surface in
// the completion callback and are logged there.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("notify: kafka requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("notify: kafka topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", "module", "notify", "sink", "kafka", "messages", len(messages), "error", err)
			}
		},
	}, nil
}

func NewKafka(writer MessageWriter, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{writer: writer, logger: logger.With("module", "notify", "sink", "kafka")}
}

func (k *Kafka) Notify(ctx context.Context, exchangeID, eventType string, payload map[string]any) {
	now := time.Now().UTC()
	body, err := encode(exchangeID, eventType, payload, now)
	if err != nil {
		k.logger.Error("encode event", "exchange_id", exchangeID, "event", eventType, "error", err)
		return
	}
	err = k.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{
		Key:     []byte(exchangeID),
		Value:   body,
		Time:    now,
		Headers: []kafka.Header{{Key: "event", Value: []byte(eventType)}},
	})
	if err != nil {
		k.logger.Warn("enqueue failed", "exchange_id", exchangeID, "event", eventType, "error", err)
	}
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
