package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewEntryStampsIdentity(t *testing.T) {
	entry := NewEntry("rate_limit_exceeded", "low", "user-1", map[string]any{"ip": "1.2.3.4"})

	_, err := uuid.Parse(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "rate_limit_exceeded", entry.Action)
	assert.Equal(t, "low", entry.Severity)
	assert.Equal(t, "user-1", entry.UserID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestLogSinkRecords(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Record(context.Background(), NewEntry("ip_blocked", "high", "", nil))

	entries := logs.FilterMessage("security_audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ip_blocked", fields["action"])
	assert.Equal(t, "high", fields["severity"])
}
