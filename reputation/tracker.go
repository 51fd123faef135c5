// Package reputation maintains a bounded per-IP trust score in the shared
// keyed store and blocks IPs whose score collapses.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/audit"
	"github.com/opsdeck/shieldcore/models"
	"github.com/opsdeck/shieldcore/store"
)

// Score adjustment contract: +1 per success, -5 per failure, clamped to
// [0,100]. An IP dropping below 10 is blocked automatically.
const (
	neutralScore   = 50
	successDelta   = 1
	failurePenalty = 5
	autoBlockBelow = 10

	recordTTL       = 7 * 24 * time.Hour
	defaultBlockTTL = 24 * time.Hour
	autoBlockReason = "Low reputation score"
)

type Tracker struct {
	store store.KeyedWindowStore
	sink  audit.Sink
	log   *zap.Logger
	now   func() time.Time
}

func New(st store.KeyedWindowStore, sink audit.Sink, log *zap.Logger) *Tracker {
	return &Tracker{
		store: st,
		sink:  sink,
		log:   log.With(zap.String("module", "reputation")),
		now:   time.Now,
	}
}

// Get returns the reputation record for an IP, creating a neutral record
// on first observation.
func (t *Tracker) Get(ctx context.Context, ip string) (*models.IPReputation, error) {
	raw, ok, err := t.store.Get(ctx, keyFor(ip))
	if err != nil {
		return nil, err
	}
	if !ok {
		rec := &models.IPReputation{
			IP:       ip,
			Score:    neutralScore,
			LastSeen: t.now(),
		}
		if err := t.save(ctx, rec, recordTTL); err != nil {
			return nil, err
		}
		return rec, nil
	}

	rec := &models.IPReputation{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, fmt.Errorf("corrupt reputation record for %s: %w", ip, err)
	}
	return rec, nil
}

// Update adjusts the score for an observed outcome. The blocked flag is
// sticky: a low score sets it, only Unblock or record expiry clears it.
func (t *Tracker) Update(ctx context.Context, ip string, success bool) (*models.IPReputation, error) {
	rec, err := t.Get(ctx, ip)
	if err != nil {
		t.log.Warn("store unavailable, skipping reputation update",
			zap.String("ip", ip), zap.Error(err))
		return nil, err
	}

	if success {
		rec.Score += successDelta
		rec.SuccessfulAttempts++
	} else {
		rec.Score -= failurePenalty
		rec.FailedAttempts++
	}
	rec.Score = clamp(rec.Score)
	rec.LastSeen = t.now()

	if rec.Score < autoBlockBelow && !rec.Blocked {
		rec.Blocked = true
		rec.BlockedReason = autoBlockReason
		t.log.Warn("ip auto-blocked",
			zap.String("ip", ip),
			zap.Int("score", rec.Score))
	}

	if err := t.save(ctx, rec, recordTTL); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsBlocked reports whether an IP is currently blocked. Store failures
// resolve fail-open (not blocked).
func (t *Tracker) IsBlocked(ctx context.Context, ip string) bool {
	raw, ok, err := t.store.Get(ctx, keyFor(ip))
	if err != nil {
		t.log.Warn("store unavailable, failing open", zap.String("ip", ip), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	rec := &models.IPReputation{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return false
	}
	return rec.Blocked
}

// Block force-blocks an IP, zeroes its score, and emits a high-severity
// audit entry. A zero duration uses the 24h default.
func (t *Tracker) Block(ctx context.Context, ip, reason string, duration time.Duration) error {
	if duration <= 0 {
		duration = defaultBlockTTL
	}

	rec, err := t.Get(ctx, ip)
	if err != nil {
		return err
	}
	rec.Score = 0
	rec.Blocked = true
	rec.BlockedReason = reason
	rec.LastSeen = t.now()

	if err := t.save(ctx, rec, duration); err != nil {
		return err
	}

	t.sink.Record(ctx, audit.Entry{
		Action:    "ip_blocked",
		Severity:  models.SeverityHigh,
		IP:        ip,
		Details:   map[string]any{"reason": reason, "duration_seconds": int(duration.Seconds())},
		CreatedAt: t.now(),
	})
	return nil
}

// Unblock clears the block flag, keeping the accumulated score history.
func (t *Tracker) Unblock(ctx context.Context, ip string) error {
	rec, err := t.Get(ctx, ip)
	if err != nil {
		return err
	}
	rec.Blocked = false
	rec.BlockedReason = ""
	return t.save(ctx, rec, recordTTL)
}

func (t *Tracker) save(ctx context.Context, rec *models.IPReputation, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.store.SetWithTTL(ctx, keyFor(rec.IP), string(data), ttl)
}

func keyFor(ip string) string {
	return store.PrefixIP + ip
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
