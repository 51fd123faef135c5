// Package ratelimit implements per-(identifier, action) sliding-window
// admission control on top of the shared keyed store.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/store"
)

// Rule is the point budget for one action within a sliding window.
type Rule struct {
	Points               int
	DurationSeconds      int
	BlockDurationSeconds int
}

func (r Rule) window() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// Per-action budgets. These values are contractual: existing clients and
// stored window data depend on them, so they are not deployment config.
var rules = map[string]Rule{
	"login":    {Points: 5, DurationSeconds: 300, BlockDurationSeconds: 900},
	"api-call": {Points: 100, DurationSeconds: 60},
	"export":   {Points: 10, DurationSeconds: 3600},
}

var defaultRule = Rule{Points: 100, DurationSeconds: 60}

// RuleFor returns the configured rule for an action, or the default rule
// for actions without an explicit entry.
func RuleFor(action string) Rule {
	if r, ok := rules[action]; ok {
		return r
	}
	return defaultRule
}

// Decision is the outcome of a rate-limit check. Denials are values, not
// errors; HTTP callers surface Remaining and ResetAt as the
// X-RateLimit-Remaining and X-RateLimit-Reset headers.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	store store.KeyedWindowStore
	log   *zap.Logger
	now   func() time.Time
}

func New(st store.KeyedWindowStore, log *zap.Logger) *Limiter {
	return &Limiter{
		store: st,
		log:   log.With(zap.String("module", "ratelimit")),
		now:   time.Now,
	}
}

// Check records the current attempt and decides admission using a
// sliding-window log: add the event, prune everything older than the
// window, count what survives. The add/prune/count sequence is not atomic
// across concurrent callers on the same key, so a narrow race can admit a
// few extra requests.
//
// If the store is unreachable the check fails open: availability is
// prioritized over strict enforcement.
func (l *Limiter) Check(ctx context.Context, identifier, action string, override *Rule) Decision {
	rule := RuleFor(action)
	if override != nil {
		rule = *override
	}

	now := l.now()
	key := store.PrefixRateLimit + action + ":" + identifier
	windowStart := now.Add(-rule.window())

	if err := l.store.AddTimestamp(ctx, key, now); err != nil {
		return l.failOpen(rule, now, err)
	}
	// The window only needs to outlive its newest event.
	if err := l.store.Expire(ctx, key, rule.window()); err != nil {
		return l.failOpen(rule, now, err)
	}
	if err := l.store.PruneOlderThan(ctx, key, windowStart); err != nil {
		return l.failOpen(rule, now, err)
	}

	count, err := l.store.CountSince(ctx, key, windowStart)
	if err != nil {
		return l.failOpen(rule, now, err)
	}

	resetAt := now.Add(rule.window())
	if oldest, ok, err := l.store.OldestSince(ctx, key, windowStart); err == nil && ok {
		resetAt = oldest.Add(rule.window())
	}

	if count > int64(rule.Points) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	remaining := rule.Points - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

// Reset clears the window for an identifier and action.
func (l *Limiter) Reset(ctx context.Context, identifier, action string) error {
	return l.store.Delete(ctx, store.PrefixRateLimit+action+":"+identifier)
}

func (l *Limiter) failOpen(rule Rule, now time.Time, err error) Decision {
	l.log.Warn("store unavailable, failing open", zap.Error(err))
	return Decision{
		Allowed:   true,
		Remaining: rule.Points,
		ResetAt:   now.Add(rule.window()),
	}
}
