package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/shieldcore/models"
)

// APIKeyRepository is the durable store for APIKeyRecord. Only hashed keys
// are ever written.
type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, rec *models.APIKeyRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()

	scope, err := json.Marshal(rec.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}

	query := `INSERT INTO api_keys (id, workspace_id, user_id, name, hashed_key, scope, expires_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, query, rec.ID, rec.WorkspaceID, rec.UserID,
		rec.Name, rec.HashedKey, scope, rec.ExpiresAt, rec.CreatedAt)
	return err
}

// GetByHash looks up a key record by the SHA-256 hex digest of the
// plaintext. Returns (nil, nil) when no record exists.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hashedKey string) (*models.APIKeyRecord, error) {
	rec := &models.APIKeyRecord{}
	var scope []byte
	var expiresAt, revokedAt sql.NullTime

	query := `SELECT id, workspace_id, user_id, name, hashed_key, scope, expires_at, revoked_at, created_at
			  FROM api_keys WHERE hashed_key = $1`
	err := r.db.QueryRowContext(ctx, query, hashedKey).Scan(
		&rec.ID, &rec.WorkspaceID, &rec.UserID, &rec.Name, &rec.HashedKey,
		&scope, &expiresAt, &revokedAt, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// A scope row that fails to decode is corrupted configuration, not
	// user input: propagate it as a hard failure.
	if err := json.Unmarshal(scope, &rec.Scope); err != nil {
		return nil, fmt.Errorf("malformed scope for key %s: %w", rec.ID, err)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		rec.RevokedAt = &revokedAt.Time
	}
	return rec, nil
}

func (r *APIKeyRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.APIKeyRecord, error) {
	query := `SELECT id, workspace_id, user_id, name, hashed_key, scope, expires_at, revoked_at, created_at
			  FROM api_keys WHERE workspace_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKeyRecord
	for rows.Next() {
		rec := &models.APIKeyRecord{}
		var scope []byte
		var expiresAt, revokedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.UserID, &rec.Name,
			&rec.HashedKey, &scope, &expiresAt, &revokedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scope, &rec.Scope); err != nil {
			return nil, fmt.Errorf("malformed scope for key %s: %w", rec.ID, err)
		}
		if expiresAt.Valid {
			rec.ExpiresAt = &expiresAt.Time
		}
		if revokedAt.Valid {
			rec.RevokedAt = &revokedAt.Time
		}
		keys = append(keys, rec)
	}
	return keys, rows.Err()
}

// Revoke marks the record revoked. The hash stays in place so a revoked
// key keeps failing validation rather than looking unknown.
func (r *APIKeyRepository) Revoke(ctx context.Context, hashedKey string) error {
	query := `UPDATE api_keys SET revoked_at = $1 WHERE hashed_key = $2 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, time.Now(), hashedKey)
	return err
}

// UpdateHash swaps the stored digest during key regeneration.
func (r *APIKeyRepository) UpdateHash(ctx context.Context, id uuid.UUID, hashedKey string) error {
	query := `UPDATE api_keys SET hashed_key = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, hashedKey, id)
	return err
}

// CountExpiredActive counts keys past their expiry that were never
// revoked. Input to the key-hygiene factor of the security score.
func (r *APIKeyRepository) CountExpiredActive(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM api_keys
			  WHERE workspace_id = $1 AND revoked_at IS NULL
			  AND expires_at IS NOT NULL AND expires_at < now()`
	err := r.db.QueryRowContext(ctx, query, workspaceID).Scan(&count)
	return count, err
}
