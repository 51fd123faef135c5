// Package audit is the fire-and-forget security event sink. Recording an
// entry never fails the calling request: implementations log delivery
// problems and move on.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is one security audit event.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Severity  string         `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEntry stamps an entry with an ID and creation time.
func NewEntry(action, severity, userID string, details map[string]any) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Action:    action,
		Severity:  severity,
		UserID:    userID,
		Details:   details,
		CreatedAt: time.Now(),
	}
}

// Sink accepts audit entries. Implementations must swallow their own
// errors; callers never handle delivery failures.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// LogSink writes audit entries to the service log. Used directly in
// development and as the in-process tail of the Kafka sink.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.With(zap.String("module", "audit"))}
}

func (s *LogSink) Record(_ context.Context, entry Entry) {
	s.log.Info("security_audit",
		zap.String("audit_id", entry.ID),
		zap.String("action", entry.Action),
		zap.String("severity", entry.Severity),
		zap.String("user_id", entry.UserID),
		zap.String("ip", entry.IP),
		zap.Any("details", entry.Details),
	)
}
