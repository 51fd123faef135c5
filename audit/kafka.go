package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes audit entries to the security events topic. The
// downstream audit-log service owns persistence; this side only delivers.
type KafkaSink struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, log *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaSink{
		writer: writer,
		log:    log.With(zap.String("module", "audit")),
	}
}

func (s *KafkaSink) Record(ctx context.Context, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		s.log.Error("failed to marshal audit entry", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(entry.Action),
		Value: data,
		Time:  entry.CreatedAt,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.log.Warn("failed to publish audit entry",
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
