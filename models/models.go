package models

import (
	"time"

	"github.com/google/uuid"
)

// Scope describes what an API key is allowed to do. Levels are cumulative:
// admin implies write, write implies read. A non-empty Resources list
// restricts the key to those resource IDs.
type Scope struct {
	Read      bool     `json:"read"`
	Write     bool     `json:"write"`
	Admin     bool     `json:"admin"`
	Resources []string `json:"resources,omitempty"`
}

// Allows reports whether the scope satisfies the required level.
func (s Scope) Allows(level string) bool {
	switch level {
	case "read":
		return s.Read || s.Write || s.Admin
	case "write":
		return s.Write || s.Admin
	case "admin":
		return s.Admin
	}
	return false
}

// AllowsResource reports whether the scope grants access to a resource.
// An empty allow-list means no resource restriction.
func (s Scope) AllowsResource(resource string) bool {
	if resource == "" || len(s.Resources) == 0 {
		return true
	}
	for _, r := range s.Resources {
		if r == resource {
			return true
		}
	}
	return false
}

// APIKeyRecord is the durable record for an API key. The plaintext key is
// never stored; HashedKey is the SHA-256 hex digest of the plaintext.
type APIKeyRecord struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Name        string     `json:"name"`
	HashedKey   string     `json:"-"`
	Scope       Scope      `json:"scope"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CachedAPIKey is the subset of APIKeyRecord mirrored into the keyed store.
type CachedAPIKey struct {
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Scope       Scope      `json:"scope"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// IPReputation is the per-IP trust record kept in the keyed store.
// Score is clamped to [0,100]; a fresh IP starts at 50.
type IPReputation struct {
	IP                 string    `json:"ip"`
	Score              int       `json:"score"`
	FailedAttempts     int64     `json:"failed_attempts"`
	SuccessfulAttempts int64     `json:"successful_attempts"`
	LastSeen           time.Time `json:"last_seen"`
	Blocked            bool      `json:"blocked"`
	BlockedReason      string    `json:"blocked_reason,omitempty"`
}

// Severity levels for suspicious activity and audit entries.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Suspicious activity types emitted by the anomaly detector.
const (
	ActivityRapidRequests = "RAPID_REQUESTS"
	ActivityUnusualTime   = "UNUSUAL_TIME"
	ActivityGeoAnomaly    = "GEO_ANOMALY"
)

// SuspiciousActivity is one entry in the capped, append-only per-identifier
// activity list. Entries are never mutated after being recorded.
type SuspiciousActivity struct {
	Type        string            `json:"type"`
	Severity    string            `json:"severity"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// User is the slice of the dashboard user the defense core cares about.
type User struct {
	ID               uuid.UUID `json:"id"`
	WorkspaceID      uuid.UUID `json:"workspace_id"`
	Email            string    `json:"email"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// Workspace carries the tenant-level security posture flags used by the
// security score calculator.
type Workspace struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	PasswordPolicyEnabled bool      `json:"password_policy_enabled"`
	AuditLoggingEnabled   bool      `json:"audit_logging_enabled"`
	CreatedAt             time.Time `json:"created_at"`
}

// SecurityScoreFactor is one weighted component of the workspace score.
type SecurityScoreFactor struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Detail   string `json:"detail,omitempty"`
}

// SecurityScoreReport is derived on demand and never persisted.
type SecurityScoreReport struct {
	WorkspaceID uuid.UUID             `json:"workspace_id"`
	Score       int                   `json:"score"`
	Factors     []SecurityScoreFactor `json:"factors"`
	GeneratedAt time.Time             `json:"generated_at"`
}
