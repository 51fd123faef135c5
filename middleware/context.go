package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	WorkspaceIDKey contextKey = "workspace_id"
	APIKeyHashKey  contextKey = "api_key_hash"
)

func GetUserID(ctx context.Context) string {
	if val := ctx.Value(UserIDKey); val != nil {
		return val.(string)
	}
	return ""
}

func GetWorkspaceID(ctx context.Context) string {
	if val := ctx.Value(WorkspaceIDKey); val != nil {
		return val.(string)
	}
	return ""
}

func GetAPIKeyHash(ctx context.Context) string {
	if val := ctx.Value(APIKeyHashKey); val != nil {
		return val.(string)
	}
	return ""
}

// getClientIP resolves the originating client IP, honoring the usual
// proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return strings.Trim(ip, "[]")
}
