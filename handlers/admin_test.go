package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/apikey"
	"github.com/opsdeck/shieldcore/models"
	"github.com/opsdeck/shieldcore/store"
)

// fakeKeyStore is an in-memory apikey.DurableStore keyed by hash.
type fakeKeyStore struct {
	byHash map[string]*models.APIKeyRecord
	err    error
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{byHash: make(map[string]*models.APIKeyRecord)}
}

func (f *fakeKeyStore) Create(_ context.Context, rec *models.APIKeyRecord) error {
	if f.err != nil {
		return f.err
	}
	f.byHash[rec.HashedKey] = rec
	return nil
}

func (f *fakeKeyStore) GetByHash(_ context.Context, hashedKey string) (*models.APIKeyRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byHash[hashedKey], nil
}

func (f *fakeKeyStore) ListByWorkspace(_ context.Context, workspaceID uuid.UUID) ([]*models.APIKeyRecord, error) {
	return nil, f.err
}

func (f *fakeKeyStore) Revoke(_ context.Context, hashedKey string) error {
	return f.err
}

func (f *fakeKeyStore) UpdateHash(_ context.Context, id uuid.UUID, hashedKey string) error {
	if f.err != nil {
		return f.err
	}
	for old, rec := range f.byHash {
		if rec.ID == id {
			delete(f.byHash, old)
			rec.HashedKey = hashedKey
			f.byHash[hashedKey] = rec
			return nil
		}
	}
	return errors.New("not found")
}

func regenerateRequest(hashedKey string) *http.Request {
	body := strings.NewReader(`{"hashed_key": "` + hashedKey + `"}`)
	return httptest.NewRequest(http.MethodPost, "/admin/api-keys/regenerate", body)
}

func TestRegenerateAPIKeyUnknownIsNotFound(t *testing.T) {
	log := zap.NewNop()
	authority := apikey.New(newFakeKeyStore(), store.NewMemory(), log)
	h := NewAdminHandler(nil, nil, nil, authority, nil, log)

	rec := httptest.NewRecorder()
	h.RegenerateAPIKey(rec, regenerateRequest(strings.Repeat("0", 64)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "api key not found")
}

func TestRegenerateAPIKeyStoreOutageIsUnavailable(t *testing.T) {
	log := zap.NewNop()
	keys := newFakeKeyStore()
	keys.err = errors.New("connection refused")
	authority := apikey.New(keys, store.NewMemory(), log)
	h := NewAdminHandler(nil, nil, nil, authority, nil, log)

	rec := httptest.NewRecorder()
	h.RegenerateAPIKey(rec, regenerateRequest(strings.Repeat("0", 64)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "key store unavailable")
}

func TestRegenerateAPIKeyRotates(t *testing.T) {
	log := zap.NewNop()
	authority := apikey.New(newFakeKeyStore(), store.NewMemory(), log)
	h := NewAdminHandler(nil, nil, nil, authority, nil, log)

	created, err := authority.Create(context.Background(), uuid.New(), uuid.New(),
		"ci", models.Scope{Read: true}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.RegenerateAPIKey(rec, regenerateRequest(created.Record.HashedKey))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"sk_`)
}
