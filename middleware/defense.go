package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/anomaly"
	"github.com/opsdeck/shieldcore/audit"
	"github.com/opsdeck/shieldcore/bruteforce"
	"github.com/opsdeck/shieldcore/metrics"
	"github.com/opsdeck/shieldcore/models"
	"github.com/opsdeck/shieldcore/ratelimit"
	"github.com/opsdeck/shieldcore/reputation"
)

// DefenseMiddleware runs the request-defense chain: IP block gate, rate
// limit, brute-force gate on login actions, then post-hoc reputation and
// anomaly updates once the outcome is known.
type DefenseMiddleware struct {
	limiter    *ratelimit.Limiter
	guard      *bruteforce.Guard
	reputation *reputation.Tracker
	detector   *anomaly.Detector
	sink       audit.Sink
	metrics    *metrics.Metrics
	log        *zap.Logger
	actionFor  func(*http.Request) string
}

func NewDefenseMiddleware(
	limiter *ratelimit.Limiter,
	guard *bruteforce.Guard,
	tracker *reputation.Tracker,
	detector *anomaly.Detector,
	sink audit.Sink,
	m *metrics.Metrics,
	log *zap.Logger,
) *DefenseMiddleware {
	return &DefenseMiddleware{
		limiter:    limiter,
		guard:      guard,
		reputation: tracker,
		detector:   detector,
		sink:       sink,
		metrics:    m,
		log:        log.With(zap.String("module", "defense")),
		actionFor:  ActionForPath,
	}
}

// ActionForPath maps a request path to its rate-limit action.
func ActionForPath(r *http.Request) string {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/auth/login"):
		return "login"
	case strings.HasPrefix(r.URL.Path, "/api/export"):
		return "export"
	default:
		return "api-call"
	}
}

func (m *DefenseMiddleware) Defend(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := getClientIP(r)
		action := m.actionFor(r)

		identifier := GetUserID(ctx)
		if identifier == "" {
			identifier = ip
		}

		if m.reputation.IsBlocked(ctx, ip) {
			m.metrics.ObserveDecision("reputation", false)
			m.sink.Record(ctx, audit.NewEntry("ip_block_enforced", models.SeverityMedium,
				GetUserID(ctx), map[string]any{"ip": ip, "path": r.URL.Path}))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": "ip blocked"}`))
			return
		}

		if action == "login" {
			decision := m.guard.Check(ctx, identifier)
			m.metrics.ObserveDecision("bruteforce", decision.Allowed)
			if !decision.Allowed {
				w.Header().Set("Content-Type", "application/json")
				if decision.BlockedUntil != nil {
					w.Header().Set("Retry-After",
						strconv.FormatInt(int64(time.Until(*decision.BlockedUntil).Seconds()), 10))
					w.WriteHeader(http.StatusLocked)
					w.Write([]byte(`{"error": "too many failed attempts", "blocked_until": ` +
						strconv.FormatInt(decision.BlockedUntil.Unix(), 10) + `}`))
				} else {
					w.WriteHeader(http.StatusLocked)
					w.Write([]byte(`{"error": "too many failed attempts"}`))
				}
				return
			}
		}

		decision := m.limiter.Check(ctx, identifier, action, nil)
		m.metrics.ObserveDecision("ratelimit", decision.Allowed)

		// Emitted for every checked call, allowed or not.
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			m.sink.Record(ctx, audit.NewEntry("rate_limit_exceeded", models.SeverityLow,
				GetUserID(ctx), map[string]any{"ip": ip, "action": action, "path": r.URL.Path}))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate limit exceeded", "retry_after": ` +
				strconv.FormatInt(retryAfter, 10) + `}`))
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.observeOutcome(r, action, identifier, ip, rw.statusCode)
	})
}

// observeOutcome feeds the trackers once the handler has decided.
func (m *DefenseMiddleware) observeOutcome(r *http.Request, action, identifier, ip string, status int) {
	ctx := r.Context()
	success := status < http.StatusBadRequest

	if _, err := m.reputation.Update(ctx, ip, success); err != nil {
		m.log.Warn("reputation update skipped", zap.String("ip", ip), zap.Error(err))
	}

	if action == "login" {
		if status == http.StatusUnauthorized {
			if _, err := m.guard.RecordFailure(ctx, identifier); err != nil {
				m.log.Warn("failed attempt not recorded", zap.Error(err))
			}
		} else if success {
			if err := m.guard.Clear(ctx, identifier); err != nil {
				m.log.Warn("failed to clear attempts", zap.Error(err))
			}
		}
	}

	metadata := map[string]string{}
	if country := r.Header.Get("X-Geo-Country"); country != "" {
		metadata["country"] = country
	}
	for _, finding := range m.detector.Detect(ctx, identifier, action, metadata) {
		m.metrics.AnomalyFindings.WithLabelValues(finding.Type).Inc()
		if err := m.detector.Record(ctx, GetUserID(ctx), ip, finding); err != nil {
			m.log.Warn("finding not recorded", zap.Error(err))
		}
	}
}
