// Package score derives a workspace security posture score on demand.
// The report is a pure function of current state and is never cached.
package score

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/shieldcore/models"
)

// Factor weights. The five factors sum to 100.
const (
	twoFactorWeight = 25

	hygieneWeight     = 20
	perExpiredPenalty = 5

	incidentWeight     = 25
	perIncidentPenalty = 5
	incidentLookback   = 10

	passwordPolicyWeight = 15
	auditLoggingWeight   = 15
)

// WorkspaceSource supplies tenant posture flags and 2FA adoption.
type WorkspaceSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	TwoFactorAdoption(ctx context.Context, workspaceID uuid.UUID) (enabled, total int, err error)
}

// KeySource supplies API key hygiene counts.
type KeySource interface {
	CountExpiredActive(ctx context.Context, workspaceID uuid.UUID) (int, error)
}

// IncidentSource supplies recent suspicious activity for the workspace
// identifier.
type IncidentSource interface {
	Recent(ctx context.Context, identifier string, limit int) ([]models.SuspiciousActivity, error)
}

type Calculator struct {
	workspaces WorkspaceSource
	keys       KeySource
	incidents  IncidentSource
	now        func() time.Time
}

func New(workspaces WorkspaceSource, keys KeySource, incidents IncidentSource) *Calculator {
	return &Calculator{
		workspaces: workspaces,
		keys:       keys,
		incidents:  incidents,
		now:        time.Now,
	}
}

// Calculate computes the weighted report for a workspace. Recomputed on
// every call.
func (c *Calculator) Calculate(ctx context.Context, workspaceID uuid.UUID) (*models.SecurityScoreReport, error) {
	ws, err := c.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	enabled, total, err := c.workspaces.TwoFactorAdoption(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("two-factor adoption: %w", err)
	}
	// A workspace without users has nobody missing 2FA.
	adoption := 1.0
	if total > 0 {
		adoption = float64(enabled) / float64(total)
	}
	twoFactor := models.SecurityScoreFactor{
		Name:     "two_factor_adoption",
		Score:    int(math.Round(adoption * twoFactorWeight)),
		MaxScore: twoFactorWeight,
		Detail:   fmt.Sprintf("%d of %d users", enabled, total),
	}

	expired, err := c.keys.CountExpiredActive(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("key hygiene: %w", err)
	}
	hygiene := models.SecurityScoreFactor{
		Name:     "api_key_hygiene",
		Score:    floor0(hygieneWeight - expired*perExpiredPenalty),
		MaxScore: hygieneWeight,
		Detail:   fmt.Sprintf("%d expired unrevoked keys", expired),
	}

	recent, err := c.incidents.Recent(ctx, workspaceID.String(), incidentLookback)
	if err != nil {
		return nil, fmt.Errorf("recent incidents: %w", err)
	}
	severe := 0
	for _, activity := range recent {
		if activity.Severity == models.SeverityHigh || activity.Severity == models.SeverityCritical {
			severe++
		}
	}
	incidents := models.SecurityScoreFactor{
		Name:     "recent_incidents",
		Score:    floor0(incidentWeight - severe*perIncidentPenalty),
		MaxScore: incidentWeight,
		Detail:   fmt.Sprintf("%d high or critical incidents", severe),
	}

	passwordPolicy := models.SecurityScoreFactor{
		Name:     "password_policy",
		MaxScore: passwordPolicyWeight,
	}
	if ws.PasswordPolicyEnabled {
		passwordPolicy.Score = passwordPolicyWeight
	}

	auditLogging := models.SecurityScoreFactor{
		Name:     "audit_logging",
		MaxScore: auditLoggingWeight,
	}
	if ws.AuditLoggingEnabled {
		auditLogging.Score = auditLoggingWeight
	}

	factors := []models.SecurityScoreFactor{twoFactor, hygiene, incidents, passwordPolicy, auditLogging}
	sum := 0
	for _, f := range factors {
		sum += f.Score
	}
	if sum < 0 {
		sum = 0
	}
	if sum > 100 {
		sum = 100
	}

	return &models.SecurityScoreReport{
		WorkspaceID: workspaceID,
		Score:       sum,
		Factors:     factors,
		GeneratedAt: c.now(),
	}, nil
}

func floor0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
