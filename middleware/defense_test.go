package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/anomaly"
	"github.com/opsdeck/shieldcore/audit"
	"github.com/opsdeck/shieldcore/bruteforce"
	"github.com/opsdeck/shieldcore/metrics"
	"github.com/opsdeck/shieldcore/ratelimit"
	"github.com/opsdeck/shieldcore/reputation"
	"github.com/opsdeck/shieldcore/store"
)

type captureSink struct {
	entries []audit.Entry
}

func (s *captureSink) Record(_ context.Context, entry audit.Entry) {
	s.entries = append(s.entries, entry)
}

type defenseFixture struct {
	middleware *DefenseMiddleware
	tracker    *reputation.Tracker
	guard      *bruteforce.Guard
	sink       *captureSink
}

func newDefenseFixture() *defenseFixture {
	log := zap.NewNop()
	st := store.NewMemory()
	sink := &captureSink{}

	tracker := reputation.New(st, sink, log)
	guard := bruteforce.New(st, bruteforce.DefaultConfig(), log)
	mw := NewDefenseMiddleware(
		ratelimit.New(st, log),
		guard,
		tracker,
		anomaly.New(st, sink, log),
		sink,
		metrics.New(),
		log,
	)
	return &defenseFixture{middleware: mw, tracker: tracker, guard: guard, sink: sink}
}

func statusHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func doRequest(h http.Handler, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":34567"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestActionForPath(t *testing.T) {
	for path, want := range map[string]string{
		"/api/auth/login": "login",
		"/api/export":     "export",
		"/api/export/csv": "export",
		"/api/widgets":    "api-call",
		"/health":         "api-call",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, ActionForPath(req), "path %s", path)
	}
}

func TestDefendSetsRateLimitHeaders(t *testing.T) {
	f := newDefenseFixture()
	h := f.middleware.Defend(statusHandler(http.StatusOK))

	rec := doRequest(h, http.MethodGet, "/api/widgets", "1.2.3.4")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestDefendRateLimitExceeded(t *testing.T) {
	f := newDefenseFixture()
	h := f.middleware.Defend(statusHandler(http.StatusOK))

	var rec *httptest.ResponseRecorder
	for i := 0; i < 101; i++ {
		rec = doRequest(h, http.MethodGet, "/api/widgets", "1.2.3.4")
	}
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	var audited bool
	for _, e := range f.sink.entries {
		if e.Action == "rate_limit_exceeded" {
			audited = true
		}
	}
	assert.True(t, audited)
}

func TestDefendBlockedIP(t *testing.T) {
	f := newDefenseFixture()
	require.NoError(t, f.tracker.Block(context.Background(), "1.2.3.4", "abuse report", time.Hour))
	h := f.middleware.Defend(statusHandler(http.StatusOK))

	rec := doRequest(h, http.MethodGet, "/api/widgets", "1.2.3.4")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "ip blocked")

	// Other IPs pass.
	rec = doRequest(h, http.MethodGet, "/api/widgets", "5.6.7.8")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDefendLoginLockout(t *testing.T) {
	f := newDefenseFixture()
	// Downstream auth rejects every attempt.
	h := f.middleware.Defend(statusHandler(http.StatusUnauthorized))

	for i := 0; i < 5; i++ {
		rec := doRequest(h, http.MethodPost, "/api/auth/login", "1.2.3.4")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := doRequest(h, http.MethodPost, "/api/auth/login", "1.2.3.4")
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "blocked_until")
}

func TestDefendLoginSuccessClearsCounter(t *testing.T) {
	f := newDefenseFixture()
	ctx := context.Background()

	failing := f.middleware.Defend(statusHandler(http.StatusUnauthorized))
	for i := 0; i < 3; i++ {
		doRequest(failing, http.MethodPost, "/api/auth/login", "1.2.3.4")
	}
	d := f.guard.Check(ctx, "1.2.3.4")
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.RemainingAttempts)

	succeeding := f.middleware.Defend(statusHandler(http.StatusOK))
	rec := doRequest(succeeding, http.MethodPost, "/api/auth/login", "1.2.3.4")
	require.Equal(t, http.StatusOK, rec.Code)

	d = f.guard.Check(ctx, "1.2.3.4")
	assert.Equal(t, 5, d.RemainingAttempts)
}

func TestDefendUpdatesReputation(t *testing.T) {
	f := newDefenseFixture()
	ctx := context.Background()

	doRequest(f.middleware.Defend(statusHandler(http.StatusOK)), http.MethodGet, "/api/widgets", "1.2.3.4")
	rec, err := f.tracker.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 51, rec.Score)

	doRequest(f.middleware.Defend(statusHandler(http.StatusInternalServerError)), http.MethodGet, "/api/widgets", "1.2.3.4")
	rec, err = f.tracker.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 46, rec.Score)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	assert.Equal(t, "9.9.9.9", getClientIP(req))

	req.Header.Set("X-Real-IP", "8.8.8.8")
	assert.Equal(t, "8.8.8.8", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "7.7.7.7, 8.8.8.8")
	assert.Equal(t, "7.7.7.7", getClientIP(req))
}
