package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/store"
	"github.com/opsdeck/shieldcore/store/storetest"
)

func newTestLimiter(start time.Time) (*Limiter, func(time.Duration)) {
	current := start
	clock := func() time.Time { return current }
	l := New(store.NewMemoryWithClock(clock), zap.NewNop())
	l.now = clock
	return l, func(d time.Duration) { current = current.Add(d) }
}

func TestCheckExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l, advance := newTestLimiter(start)

	for i := 0; i < 5; i++ {
		d := l.Check(ctx, "1.2.3.4", "login", nil)
		require.True(t, d.Allowed, "attempt %d should be within budget", i+1)
		assert.Equal(t, 4-i, d.Remaining)
		advance(time.Second)
	}

	d := l.Check(ctx, "1.2.3.4", "login", nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	// The window resets when the oldest recorded attempt ages out.
	assert.Equal(t, start.Add(300*time.Second), d.ResetAt)
}

func TestWindowSlides(t *testing.T) {
	ctx := context.Background()
	l, advance := newTestLimiter(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 6; i++ {
		l.Check(ctx, "1.2.3.4", "login", nil)
	}
	assert.False(t, l.Check(ctx, "1.2.3.4", "login", nil).Allowed)

	advance(301 * time.Second)
	d := l.Check(ctx, "1.2.3.4", "login", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestIdentifiersAndActionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 6; i++ {
		l.Check(ctx, "1.2.3.4", "login", nil)
	}
	assert.False(t, l.Check(ctx, "1.2.3.4", "login", nil).Allowed)
	assert.True(t, l.Check(ctx, "5.6.7.8", "login", nil).Allowed)
	assert.True(t, l.Check(ctx, "1.2.3.4", "api-call", nil).Allowed)
}

func TestUnknownActionUsesDefaultRule(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	d := l.Check(ctx, "1.2.3.4", "bulk-delete", nil)
	require.True(t, d.Allowed)
	assert.Equal(t, 99, d.Remaining)
}

func TestRuleFor(t *testing.T) {
	assert.Equal(t, Rule{Points: 5, DurationSeconds: 300, BlockDurationSeconds: 900}, RuleFor("login"))
	assert.Equal(t, Rule{Points: 100, DurationSeconds: 60}, RuleFor("api-call"))
	assert.Equal(t, Rule{Points: 10, DurationSeconds: 3600}, RuleFor("export"))
	assert.Equal(t, Rule{Points: 100, DurationSeconds: 60}, RuleFor("anything-else"))
}

func TestOverrideRule(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	override := &Rule{Points: 1, DurationSeconds: 60}

	assert.True(t, l.Check(ctx, "1.2.3.4", "api-call", override).Allowed)
	assert.False(t, l.Check(ctx, "1.2.3.4", "api-call", override).Allowed)
}

func TestResetClearsWindow(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 6; i++ {
		l.Check(ctx, "1.2.3.4", "login", nil)
	}
	assert.False(t, l.Check(ctx, "1.2.3.4", "login", nil).Allowed)

	require.NoError(t, l.Reset(ctx, "1.2.3.4", "login"))
	d := l.Check(ctx, "1.2.3.4", "login", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestStoreFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	l := New(storetest.Failing{}, zap.NewNop())

	d := l.Check(ctx, "1.2.3.4", "login", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
}
