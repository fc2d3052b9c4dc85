package adminauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes audit events to a Kafka topic, keyed by account ID
// so one account's trail stays ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewKafkaSink builds a sink over the given brokers. Pass a nil logger to
// silence write failures.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaSink{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

func (s *KafkaSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode audit event", zap.Error(err))
		return
	}

	key := event.AccountID
	if key == "" {
		key = event.Identifier
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to write audit event",
			zap.Error(err),
			zap.String("event_type", event.EventType),
		)
	}
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
