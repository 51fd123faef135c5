// Package apikey mints, validates, and revokes scoped API keys. Plaintext
// keys are emitted exactly once at creation or regeneration; everything
// downstream works with the SHA-256 hex digest.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/models"
	"github.com/opsdeck/shieldcore/store"
)

const (
	keyPrefix       = "sk"
	defaultCacheTTL = 30 * 24 * time.Hour
)

// Rejection reasons. Policy denials are values carried in Validation, not
// errors.
// ErrNotFound reports that no active record matches the given hash.
// Distinct from store errors so callers can answer 404 versus 503.
var ErrNotFound = errors.New("api key not found")

const (
	ReasonInvalid      = "Invalid API key"
	ReasonExpired      = "API key expired"
	reasonInsufficient = "Insufficient permissions: %s required"
	reasonNoResource   = "No access to resource: %s"
)

// DurableStore is the relational store behind the cache. Implemented by
// repository.APIKeyRepository.
type DurableStore interface {
	Create(ctx context.Context, rec *models.APIKeyRecord) error
	GetByHash(ctx context.Context, hashedKey string) (*models.APIKeyRecord, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.APIKeyRecord, error)
	Revoke(ctx context.Context, hashedKey string) error
	UpdateHash(ctx context.Context, id uuid.UUID, hashedKey string) error
}

// CreateResult carries the plaintext key back to the caller. This is the
// only place the plaintext ever appears.
type CreateResult struct {
	Record       *models.APIKeyRecord
	PlaintextKey string
}

// Validation is the outcome of a key check.
type Validation struct {
	Valid       bool
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Error       string
}

type Authority struct {
	durable DurableStore
	cache   store.KeyedWindowStore
	log     *zap.Logger
	now     func() time.Time
}

func New(durable DurableStore, cache store.KeyedWindowStore, log *zap.Logger) *Authority {
	return &Authority{
		durable: durable,
		cache:   cache,
		log:     log.With(zap.String("module", "apikey")),
		now:     time.Now,
	}
}

// Create mints a new key, persists the hashed record, and mirrors it into
// the cache. The plaintext is returned once and never stored or logged.
func (a *Authority) Create(ctx context.Context, workspaceID, userID uuid.UUID, name string, scope models.Scope, expiresAt *time.Time) (*CreateResult, error) {
	plaintext, hashed, err := generateKey()
	if err != nil {
		return nil, err
	}

	rec := &models.APIKeyRecord{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Name:        name,
		HashedKey:   hashed,
		Scope:       scope,
		ExpiresAt:   expiresAt,
	}
	if err := a.durable.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist api key: %w", err)
	}

	a.cacheSet(ctx, rec)

	return &CreateResult{Record: rec, PlaintextKey: plaintext}, nil
}

// Validate checks a plaintext key against the required scope level and
// optional resource. Checks the cache first and falls back to the durable
// store, repopulating the cache on a hit there.
func (a *Authority) Validate(ctx context.Context, plaintextKey, requiredScope, resource string) Validation {
	hashed := HashKey(plaintextKey)

	if cached, ok := a.cacheGet(ctx, hashed); ok {
		return a.check(cached.Scope, cached.ExpiresAt, cached.WorkspaceID, cached.UserID, requiredScope, resource)
	}

	rec, err := a.durable.GetByHash(ctx, hashed)
	if err != nil {
		// Uniform subsystem policy: store outages do not lock tenants
		// out of their own dashboard.
		a.log.Warn("durable store unavailable, failing open", zap.Error(err))
		return Validation{Valid: true}
	}
	if rec == nil || rec.RevokedAt != nil {
		return Validation{Error: ReasonInvalid}
	}

	a.cacheSet(ctx, rec)
	return a.check(rec.Scope, rec.ExpiresAt, rec.WorkspaceID, rec.UserID, requiredScope, resource)
}

// Revoke marks the durable record revoked and evicts the cache entry so
// the very next validation already fails.
func (a *Authority) Revoke(ctx context.Context, hashedKey string) error {
	if err := a.durable.Revoke(ctx, hashedKey); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if err := a.cache.Delete(ctx, cacheKey(hashedKey)); err != nil {
		a.log.Error("failed to evict revoked key from cache", zap.Error(err))
	}
	return nil
}

// Regenerate replaces the key material for an existing record, returning
// the new plaintext once. The old hash stops validating immediately.
func (a *Authority) Regenerate(ctx context.Context, hashedKey string) (*CreateResult, error) {
	rec, err := a.durable.GetByHash(ctx, hashedKey)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.RevokedAt != nil {
		return nil, ErrNotFound
	}

	plaintext, newHash, err := generateKey()
	if err != nil {
		return nil, err
	}
	if err := a.durable.UpdateHash(ctx, rec.ID, newHash); err != nil {
		return nil, fmt.Errorf("rotate api key: %w", err)
	}
	if err := a.cache.Delete(ctx, cacheKey(hashedKey)); err != nil {
		a.log.Error("failed to evict rotated key from cache", zap.Error(err))
	}

	rec.HashedKey = newHash
	a.cacheSet(ctx, rec)
	return &CreateResult{Record: rec, PlaintextKey: plaintext}, nil
}

// ListByWorkspace exposes the durable listing for the admin surface.
func (a *Authority) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.APIKeyRecord, error) {
	return a.durable.ListByWorkspace(ctx, workspaceID)
}

func (a *Authority) check(scope models.Scope, expiresAt *time.Time, workspaceID, userID uuid.UUID, requiredScope, resource string) Validation {
	if expiresAt != nil && a.now().After(*expiresAt) {
		return Validation{Error: ReasonExpired}
	}
	if requiredScope != "" && !scope.Allows(requiredScope) {
		return Validation{Error: fmt.Sprintf(reasonInsufficient, requiredScope)}
	}
	if !scope.AllowsResource(resource) {
		return Validation{Error: fmt.Sprintf(reasonNoResource, resource)}
	}
	return Validation{Valid: true, WorkspaceID: workspaceID, UserID: userID}
}

func (a *Authority) cacheGet(ctx context.Context, hashedKey string) (*models.CachedAPIKey, bool) {
	raw, ok, err := a.cache.Get(ctx, cacheKey(hashedKey))
	if err != nil {
		a.log.Warn("cache unavailable, falling back to durable store", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	cached := &models.CachedAPIKey{}
	if err := json.Unmarshal([]byte(raw), cached); err != nil {
		return nil, false
	}
	return cached, true
}

func (a *Authority) cacheSet(ctx context.Context, rec *models.APIKeyRecord) {
	ttl := defaultCacheTTL
	if rec.ExpiresAt != nil {
		if until := rec.ExpiresAt.Sub(a.now()); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(models.CachedAPIKey{
		WorkspaceID: rec.WorkspaceID,
		UserID:      rec.UserID,
		Scope:       rec.Scope,
		ExpiresAt:   rec.ExpiresAt,
	})
	if err != nil {
		return
	}
	// Cache failures are not fatal: validation falls back to the durable
	// store.
	if err := a.cache.SetWithTTL(ctx, cacheKey(rec.HashedKey), string(data), ttl); err != nil {
		a.log.Warn("failed to cache api key", zap.Error(err))
	}
}

// HashKey returns the SHA-256 hex digest used as the storage lookup key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func generateKey() (plaintext, hashed string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate key material: %w", err)
	}
	plaintext = keyPrefix + "_" + hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), nil
}

func cacheKey(hashedKey string) string {
	return store.PrefixAPIKey + hashedKey
}
