// Package bruteforce tracks failed authentication attempts per identifier
// and applies a temporary lockout once the failure threshold is reached.
package bruteforce

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/store"
)

// Progressive response delay in milliseconds, indexed by prior failure
// count. Advisory only: callers decide whether to sleep before retrying;
// the guard never blocks.
var delayLadder = []int64{0, 1000, 2000, 5000, 10000}

// Decision is the outcome of a brute-force check.
type Decision struct {
	Allowed           bool
	RemainingAttempts int
	BlockedUntil      *time.Time
	DelayMillis       int64
}

type Config struct {
	MaxAttempts   int
	WindowSeconds int
	BlockSeconds  int
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, WindowSeconds: 300, BlockSeconds: 900}
}

type Guard struct {
	store store.KeyedWindowStore
	log   *zap.Logger
	cfg   Config
	now   func() time.Time
}

func New(st store.KeyedWindowStore, cfg Config, log *zap.Logger) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Guard{
		store: st,
		log:   log.With(zap.String("module", "bruteforce")),
		cfg:   cfg,
		now:   time.Now,
	}
}

// Check decides whether the identifier may attempt authentication. An
// unexpired block record always denies, regardless of the counter. When
// the failure counter reaches the threshold a block record is created.
// Store failures resolve fail-open.
func (g *Guard) Check(ctx context.Context, identifier string) Decision {
	now := g.now()

	blockKey := blockKeyFor(identifier)
	if raw, ok, err := g.store.Get(ctx, blockKey); err != nil {
		return g.failOpen(err)
	} else if ok {
		until, parseErr := parseUnix(raw)
		if parseErr == nil && now.Before(until) {
			return Decision{Allowed: false, BlockedUntil: &until}
		}
		// Stale record the store has not expired yet.
		_ = g.store.Delete(ctx, blockKey)
	}

	attempts, err := g.attempts(ctx, identifier)
	if err != nil {
		return g.failOpen(err)
	}

	if attempts >= g.cfg.MaxAttempts {
		until := now.Add(time.Duration(g.cfg.BlockSeconds) * time.Second)
		err := g.store.SetWithTTL(ctx, blockKey,
			strconv.FormatInt(until.Unix(), 10),
			time.Duration(g.cfg.BlockSeconds)*time.Second)
		if err != nil {
			return g.failOpen(err)
		}
		g.log.Warn("identifier locked out",
			zap.String("identifier", identifier),
			zap.Int("attempts", attempts),
			zap.Time("blocked_until", until))
		return Decision{Allowed: false, BlockedUntil: &until}
	}

	idx := attempts
	if idx >= len(delayLadder) {
		idx = len(delayLadder) - 1
	}
	return Decision{
		Allowed:           true,
		RemainingAttempts: g.cfg.MaxAttempts - attempts,
		DelayMillis:       delayLadder[idx],
	}
}

// RecordFailure increments the failure counter and resets its TTL to the
// tracking window. Returns the new count.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) (int, error) {
	key := counterKeyFor(identifier)
	n, err := g.store.Increment(ctx, key)
	if err != nil {
		g.log.Warn("failed to record attempt", zap.String("identifier", identifier), zap.Error(err))
		return 0, err
	}
	if err := g.store.Expire(ctx, key, time.Duration(g.cfg.WindowSeconds)*time.Second); err != nil {
		g.log.Warn("failed to refresh attempt window", zap.String("identifier", identifier), zap.Error(err))
	}
	return int(n), nil
}

// Clear removes both the failure counter and any block record. Called on
// successful authentication or manual unlock.
func (g *Guard) Clear(ctx context.Context, identifier string) error {
	return g.store.Delete(ctx, counterKeyFor(identifier), blockKeyFor(identifier))
}

func (g *Guard) attempts(ctx context.Context, identifier string) (int, error) {
	raw, ok, err := g.store.Get(ctx, counterKeyFor(identifier))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (g *Guard) failOpen(err error) Decision {
	g.log.Warn("store unavailable, failing open", zap.Error(err))
	return Decision{Allowed: true, RemainingAttempts: g.cfg.MaxAttempts}
}

func counterKeyFor(identifier string) string {
	return store.PrefixBruteForce + identifier
}

func blockKeyFor(identifier string) string {
	return store.PrefixBruteForce + "block:" + identifier
}

func parseUnix(raw string) (time.Time, error) {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
