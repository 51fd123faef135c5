package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestMemoryIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	n, err := s.Increment(ctx, "bruteforce:login:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Increment(ctx, "bruteforce:login:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Counters live in the plain value namespace, like Redis INCR.
	val, ok, err := s.Get(ctx, "bruteforce:login:1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", val)

	require.NoError(t, s.SetWithTTL(ctx, "k", "not-a-number", time.Minute))
	_, err = s.Increment(ctx, "k")
	assert.Error(t, err)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock, advance := newClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryWithClock(clock)

	require.NoError(t, s.SetWithTTL(ctx, "apikey:abc", "v", 5*time.Minute))

	_, ok, err := s.Get(ctx, "apikey:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	advance(5*time.Minute + time.Second)
	_, ok, err = s.Get(ctx, "apikey:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	// Expired counter restarts from zero.
	n, err := s.Increment(ctx, "bruteforce:login:x")
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "bruteforce:login:x", time.Minute))
	advance(2 * time.Minute)
	n, err = s.Increment(ctx, "bruteforce:login:x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryExpireMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Expire(ctx, "nope", time.Minute))
	_, ok, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTimestampWindow(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemory()
	key := "ratelimit:api-call:1.2.3.4"

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddTimestamp(ctx, key, base.Add(time.Duration(i)*time.Second)))
	}

	n, err := s.CountSince(ctx, key, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	oldest, ok, err := s.OldestSince(ctx, key, base.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Second), oldest)

	require.NoError(t, s.PruneOlderThan(ctx, key, base.Add(3*time.Second)))
	n, err = s.CountSince(ctx, key, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.PruneOlderThan(ctx, key, base.Add(time.Hour)))
	_, ok, err = s.OldestSince(ctx, key, time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCappedList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := "suspicious:user-1"

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.PushCapped(ctx, key, v, 3))
	}

	got, err := s.ListRange(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, got)

	got, err = s.ListRange(ctx, key, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got)

	got, err = s.ListRange(ctx, key, 10, 20)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.SetWithTTL(ctx, "a", "1", time.Minute))
	require.NoError(t, s.SetWithTTL(ctx, "b", "2", time.Minute))
	require.NoError(t, s.Delete(ctx, "a", "b", "missing"))
	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
}
