// Package storetest provides KeyedWindowStore doubles for component tests.
package storetest

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is what every Failing operation returns.
var ErrUnavailable = errors.New("store unavailable")

// Failing implements store.KeyedWindowStore with every operation failing,
// for exercising fail-open paths.
type Failing struct{}

func (Failing) Increment(context.Context, string) (int64, error) { return 0, ErrUnavailable }

func (Failing) SetWithTTL(context.Context, string, string, time.Duration) error {
	return ErrUnavailable
}

func (Failing) Get(context.Context, string) (string, bool, error) { return "", false, ErrUnavailable }

func (Failing) Delete(context.Context, ...string) error { return ErrUnavailable }

func (Failing) Expire(context.Context, string, time.Duration) error { return ErrUnavailable }

func (Failing) AddTimestamp(context.Context, string, time.Time) error { return ErrUnavailable }

func (Failing) CountSince(context.Context, string, time.Time) (int64, error) {
	return 0, ErrUnavailable
}

func (Failing) OldestSince(context.Context, string, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, ErrUnavailable
}

func (Failing) PruneOlderThan(context.Context, string, time.Time) error { return ErrUnavailable }

func (Failing) PushCapped(context.Context, string, string, int64) error { return ErrUnavailable }

func (Failing) ListRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, ErrUnavailable
}
