// Package anomaly keeps a capped per-identifier history of suspicious
// activity and runs heuristic checks over it.
package anomaly

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

// Heuristic thresholds. Contractual values: changing them changes which
// traffic gets flagged.
const (
	maxEntries   = 100
	listTTL      = 30 * 24 * time.Hour
	historyDepth = 20

	rapidRequestCount  = 10
	rapidRequestWindow = 10 * time.Second

	quietHourStart  = 2
	quietHourEnd    = 5
	quietHistoryMin = 2
)

type Detector struct {
	store store.KeyedWindowStore
	sink  audit.Sink
	log   *zap.Logger
	now   func() time.Time
}

func New(st store.KeyedWindowStore, sink audit.Sink, log *zap.Logger) *Detector {
	return &Detector{
		store: st,
		sink:  sink,
		log:   log.With(zap.String("module", "anomaly")),
		now:   time.Now,
	}
}

// Record appends an activity to the capped history for the user, falling
// back to the IP when no user is known. High and critical severities are
// logged and forwarded to the audit sink.
func (d *Detector) Record(ctx context.Context, userID, ip string, activity models.SuspiciousActivity) error {
	identifier := userID
	if identifier == "" {
		identifier = ip
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = d.now()
	}

	data, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	key := keyFor(identifier)
	if err := d.store.PushCapped(ctx, key, string(data), maxEntries); err != nil {
		d.log.Warn("failed to record activity",
			zap.String("identifier", identifier), zap.Error(err))
		return err
	}
	if err := d.store.Expire(ctx, key, listTTL); err != nil {
		d.log.Warn("failed to refresh activity ttl",
			zap.String("identifier", identifier), zap.Error(err))
	}

	if activity.Severity == models.SeverityHigh || activity.Severity == models.SeverityCritical {
		d.log.Warn("suspicious activity",
			zap.String("identifier", identifier),
			zap.String("type", activity.Type),
			zap.String("severity", activity.Severity),
			zap.String("description", activity.Description))
		d.sink.Record(ctx, audit.Entry{
			Action:   "suspicious_activity",
			Severity: activity.Severity,
			UserID:   userID,
			IP:       ip,
			Details: map[string]any{
				"type":        activity.Type,
				"description": activity.Description,
			},
			CreatedAt: d.now(),
		})
	}
	return nil
}

// Recent returns the newest activities for an identifier, most recent
// first. Entries that fail to decode are skipped.
func (d *Detector) Recent(ctx context.Context, identifier string, limit int) ([]models.SuspiciousActivity, error) {
	raw, err := d.store.ListRange(ctx, keyFor(identifier), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}

	activities := make([]models.SuspiciousActivity, 0, len(raw))
	for _, item := range raw {
		var activity models.SuspiciousActivity
		if err := json.Unmarshal([]byte(item), &activity); err != nil {
			continue
		}
		activities = append(activities, activity)
	}
	return activities, nil
}

// Detect runs the heuristics over the last 20 recorded activities and
// returns new findings. Findings are not persisted; the caller decides
// whether to Record them. Store failures yield no findings.
func (d *Detector) Detect(ctx context.Context, userID, currentAction string, metadata map[string]string) []models.SuspiciousActivity {
	now := d.now()

	history, err := d.Recent(ctx, userID, historyDepth)
	if err != nil {
		d.log.Warn("store unavailable, skipping detection",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	var findings []models.SuspiciousActivity

	recent := 0
	for _, activity := range history {
		if now.Sub(activity.Timestamp) <= rapidRequestWindow {
			recent++
		}
	}
	if recent > rapidRequestCount {
		findings = append(findings, models.SuspiciousActivity{
			Type:        models.ActivityRapidRequests,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("%d requests within %s", recent, rapidRequestWindow),
			Metadata:    map[string]string{"action": currentAction},
			Timestamp:   now,
		})
	}

	hour := now.Hour()
	if hour >= quietHourStart && hour <= quietHourEnd {
		historical := 0
		for _, activity := range history {
			h := activity.Timestamp.Hour()
			if h >= quietHourStart && h <= quietHourEnd {
				historical++
			}
		}
		if historical < quietHistoryMin {
			findings = append(findings, models.SuspiciousActivity{
				Type:        models.ActivityUnusualTime,
				Severity:    models.SeverityLow,
				Description: fmt.Sprintf("activity at unusual hour %d", hour),
				Metadata:    map[string]string{"action": currentAction},
				Timestamp:   now,
			})
		}
	}

	country := metadata["country"]
	previous := metadata["previousCountry"]
	if country != "" && previous != "" && country != previous {
		findings = append(findings, models.SuspiciousActivity{
			Type:        models.ActivityGeoAnomaly,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("country changed from %s to %s", previous, country),
			Metadata:    map[string]string{"country": country, "previous_country": previous},
			Timestamp:   now,
		})
	}

	return findings
}

func keyFor(identifier string) string {
	return store.PrefixSuspicious + identifier
}
