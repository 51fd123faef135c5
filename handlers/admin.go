package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/shieldcore/anomaly"
	"github.com/opsdeck/shieldcore/apikey"
	"github.com/opsdeck/shieldcore/bruteforce"
	"github.com/opsdeck/shieldcore/models"
	"github.com/opsdeck/shieldcore/reputation"
	"github.com/opsdeck/shieldcore/score"
)

// AdminHandler is the operator surface over the defense components.
type AdminHandler struct {
	tracker    *reputation.Tracker
	guard      *bruteforce.Guard
	detector   *anomaly.Detector
	authority  *apikey.Authority
	calculator *score.Calculator
	log        *zap.Logger
}

func NewAdminHandler(
	tracker *reputation.Tracker,
	guard *bruteforce.Guard,
	detector *anomaly.Detector,
	authority *apikey.Authority,
	calculator *score.Calculator,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		tracker:    tracker,
		guard:      guard,
		detector:   detector,
		authority:  authority,
		calculator: calculator,
		log:        log.With(zap.String("module", "handlers")),
	}
}

func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// GetIPReputation returns (and lazily creates) the record for ?ip=.
func (h *AdminHandler) GetIPReputation(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "ip parameter required")
		return
	}

	rec, err := h.tracker.Get(r.Context(), ip)
	if err != nil {
		h.log.Error("failed to load reputation", zap.String("ip", ip), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP              string `json:"ip"`
		Reason          string `json:"reason"`
		DurationSeconds int    `json:"duration_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		writeError(w, http.StatusBadRequest, "ip and reason required")
		return
	}
	if req.Reason == "" {
		req.Reason = "Blocked by operator"
	}

	err := h.tracker.Block(r.Context(), req.IP, req.Reason,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		h.log.Error("failed to block ip", zap.String("ip", req.IP), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": req.IP})
}

func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		writeError(w, http.StatusBadRequest, "ip required")
		return
	}

	if err := h.tracker.Unblock(r.Context(), req.IP); err != nil {
		h.log.Error("failed to unblock ip", zap.String("ip", req.IP), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unblocked": req.IP})
}

// Unlock clears brute-force state for an identifier (manual unlock).
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier required")
		return
	}

	if err := h.guard.Clear(r.Context(), req.Identifier); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": req.Identifier})
}

func (h *AdminHandler) GetSuspiciousActivities(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier parameter required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	activities, err := h.detector.Recent(r.Context(), identifier, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "activity store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identifier": identifier,
		"activities": activities,
	})
}

// ScanAnomalies runs the detector heuristics without persisting findings.
func (h *AdminHandler) ScanAnomalies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string            `json:"user_id"`
		Action   string            `json:"action"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	findings := h.detector.Detect(r.Context(), req.UserID, req.Action, req.Metadata)
	writeJSON(w, http.StatusOK, map[string]any{"findings": findings})
}

func (h *AdminHandler) GetSecurityScore(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid workspace_id required")
		return
	}

	report, err := h.calculator.Calculate(r.Context(), workspaceID)
	if err != nil {
		h.log.Error("failed to calculate score",
			zap.String("workspace_id", workspaceID.String()), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "score inputs unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CreateAPIKey mints a key. The plaintext appears in this response and
// nowhere else, ever.
func (h *AdminHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string       `json:"workspace_id"`
		UserID      string       `json:"user_id"`
		Name        string       `json:"name"`
		Scope       models.Scope `json:"scope"`
		ExpiresAt   *time.Time   `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid workspace_id required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid user_id required")
		return
	}

	result, err := h.authority.Create(r.Context(), workspaceID, userID, req.Name, req.Scope, req.ExpiresAt)
	if err != nil {
		h.log.Error("failed to create api key", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"key":        result.PlaintextKey,
		"hashed_key": result.Record.HashedKey,
		"record":     result.Record,
	})
}

func (h *AdminHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid workspace_id required")
		return
	}

	keys, err := h.authority.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *AdminHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HashedKey string `json:"hashed_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HashedKey == "" {
		writeError(w, http.StatusBadRequest, "hashed_key required")
		return
	}

	if err := h.authority.Revoke(r.Context(), req.HashedKey); err != nil {
		h.log.Error("failed to revoke api key", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": req.HashedKey})
}

func (h *AdminHandler) RegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HashedKey string `json:"hashed_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HashedKey == "" {
		writeError(w, http.StatusBadRequest, "hashed_key required")
		return
	}

	result, err := h.authority.Regenerate(r.Context(), req.HashedKey)
	if errors.Is(err, apikey.ErrNotFound) {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		h.log.Error("failed to regenerate api key", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":        result.PlaintextKey,
		"hashed_key": result.Record.HashedKey,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
