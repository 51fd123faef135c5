package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/opsdeck/shieldcore/models"
)

type WorkspaceRepository struct {
	db *sql.DB
}

func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	ws := &models.Workspace{}
	query := `SELECT id, name, password_policy_enabled, audit_logging_enabled, created_at
			  FROM workspaces WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ws.ID, &ws.Name, &ws.PasswordPolicyEnabled, &ws.AuditLoggingEnabled, &ws.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// TwoFactorAdoption returns how many of the workspace's users have
// two-factor enabled alongside the total user count.
func (r *WorkspaceRepository) TwoFactorAdoption(ctx context.Context, workspaceID uuid.UUID) (enabled, total int, err error) {
	query := `SELECT COUNT(*) FILTER (WHERE two_factor_enabled), COUNT(*)
			  FROM users WHERE workspace_id = $1`
	err = r.db.QueryRowContext(ctx, query, workspaceID).Scan(&enabled, &total)
	return enabled, total, err
}

func (r *WorkspaceRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, workspace_id, email, two_factor_enabled, created_at FROM users WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.WorkspaceID, &user.Email, &user.TwoFactorEnabled, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}
