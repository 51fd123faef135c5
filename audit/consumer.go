package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EntryHandler processes audit entries read back from the topic.
type EntryHandler interface {
	HandleEntry(ctx context.Context, entry *Entry) error
}

// Consumer reads the security events topic. Useful for operators running
// the core standalone without the downstream audit-log service.
type Consumer struct {
	reader  *kafka.Reader
	handler EntryHandler
	log     *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, handler EntryHandler, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
		log:     log.With(zap.String("module", "audit-consumer")),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := c.reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					c.log.Warn("error reading message", zap.Error(err))
					continue
				}

				var entry Entry
				if err := json.Unmarshal(msg.Value, &entry); err != nil {
					c.log.Warn("error unmarshaling entry", zap.Error(err))
					continue
				}

				if err := c.handler.HandleEntry(ctx, &entry); err != nil {
					c.log.Warn("error handling entry", zap.Error(err))
				}
			}
		}
	}()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// LogHandler is the default consumer handler: it logs received entries.
type LogHandler struct {
	Log *zap.Logger
}

func (h *LogHandler) HandleEntry(_ context.Context, entry *Entry) error {
	h.Log.Info("received audit entry",
		zap.String("action", entry.Action),
		zap.String("severity", entry.Severity),
		zap.String("user_id", entry.UserID))
	return nil
}
