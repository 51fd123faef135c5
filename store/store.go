// Package store provides the shared keyed, TTL-aware store that every
// defense component keeps its windowed state in. Components use disjoint
// key prefixes so they never contend on the same key.
package store

import (
	"context"
	"time"
)

// Key prefixes per concern. These are part of the wire format of the shared
// store and must stay stable for interoperability with existing data.
const (
	PrefixRateLimit  = "ratelimit:"
	PrefixBruteForce = "bruteforce:"
	PrefixIP         = "ip:"
	PrefixAPIKey     = "apikey:"
	PrefixSuspicious = "suspicious:"
)

// KeyedWindowStore is the contract every component depends on. All
// operations are network round-trips to a shared out-of-process store:
// callers must treat every call as fallible and potentially slow.
//
// Increment is atomic. A read-count-then-conditionally-write sequence is
// not atomic across calls; callers that need stronger guarantees must say
// so explicitly.
type KeyedWindowStore interface {
	// Increment atomically increments the integer at key and returns the
	// new value. A missing key counts as zero.
	Increment(ctx context.Context, key string) (int64, error)

	// SetWithTTL stores value at key, replacing any prior value, and sets
	// the key to expire after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value at key. The second result is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Expire (re)sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// AddTimestamp records an event timestamp in the sorted set at key.
	AddTimestamp(ctx context.Context, key string, ts time.Time) error

	// CountSince counts timestamps at key that are >= min.
	CountSince(ctx context.Context, key string, min time.Time) (int64, error)

	// OldestSince returns the earliest timestamp at key that is >= min.
	// The second result is false when no such timestamp exists.
	OldestSince(ctx context.Context, key string, min time.Time) (time.Time, bool, error)

	// PruneOlderThan drops timestamps at key strictly older than min.
	PruneOlderThan(ctx context.Context, key string, min time.Time) error

	// PushCapped prepends value to the list at key and trims the list to
	// at most maxLen entries, dropping the oldest.
	PushCapped(ctx context.Context, key, value string, maxLen int64) error

	// ListRange returns list entries in [start, stop], newest first.
	// A stop of -1 means the end of the list.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}
