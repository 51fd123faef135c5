package bruteforce

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

func newTestGuard(start time.Time) (*Guard, func(time.Duration)) {
	current := start
	clock := func() time.Time { return current }
	g := New(store.NewMemoryWithClock(clock), DefaultConfig(), zap.NewNop())
	g.now = clock
	return g, func(d time.Duration) { current = current.Add(d) }
}

func TestProgressiveDelayLadder(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	want := []struct {
		delay     int64
		remaining int
	}{
		{0, 5},
		{1000, 4},
		{2000, 3},
		{5000, 2},
		{10000, 1},
	}
	for i, w := range want {
		d := g.Check(ctx, "alice")
		require.True(t, d.Allowed, "after %d failures", i)
		assert.Equal(t, w.delay, d.DelayMillis, "delay after %d failures", i)
		assert.Equal(t, w.remaining, d.RemainingAttempts, "remaining after %d failures", i)

		n, err := g.RecordFailure(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}
}

func TestLockoutAtThreshold(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g, _ := newTestGuard(start)

	for i := 0; i < 5; i++ {
		_, err := g.RecordFailure(ctx, "alice")
		require.NoError(t, err)
	}

	d := g.Check(ctx, "alice")
	assert.False(t, d.Allowed)
	require.NotNil(t, d.BlockedUntil)
	assert.Equal(t, start.Add(900*time.Second).Unix(), d.BlockedUntil.Unix())

	// Block persists even after the attempt counter ages out.
	d = g.Check(ctx, "alice")
	assert.False(t, d.Allowed)
	require.NotNil(t, d.BlockedUntil)
}

func TestBlockExpires(t *testing.T) {
	ctx := context.Background()
	g, advance := newTestGuard(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		g.RecordFailure(ctx, "alice")
	}
	require.False(t, g.Check(ctx, "alice").Allowed)

	advance(901 * time.Second)
	d := g.Check(ctx, "alice")
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.RemainingAttempts)
	assert.Equal(t, int64(0), d.DelayMillis)
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	ctx := context.Background()
	g, advance := newTestGuard(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		g.RecordFailure(ctx, "alice")
	}
	d := g.Check(ctx, "alice")
	require.True(t, d.Allowed)
	assert.Equal(t, 2, d.RemainingAttempts)

	advance(301 * time.Second)
	d = g.Check(ctx, "alice")
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.RemainingAttempts)
}

func TestClearResets(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		g.RecordFailure(ctx, "alice")
	}
	require.False(t, g.Check(ctx, "alice").Allowed)

	require.NoError(t, g.Clear(ctx, "alice"))
	d := g.Check(ctx, "alice")
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.RemainingAttempts)
}

func TestIdentifiersAreIndependent(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		g.RecordFailure(ctx, "alice")
	}
	assert.False(t, g.Check(ctx, "alice").Allowed)
	assert.True(t, g.Check(ctx, "bob").Allowed)
}

func TestStoreFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	g := New(storetest.Failing{}, DefaultConfig(), zap.NewNop())

	d := g.Check(ctx, "alice")
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.RemainingAttempts)

	_, err := g.RecordFailure(ctx, "alice")
	assert.Error(t, err)
}
