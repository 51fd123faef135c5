package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opsdeck/shieldcore/apikey"
)

type AuthMiddleware struct {
	jwtSecret string
	authority *apikey.Authority
}

func NewAuthMiddleware(jwtSecret string, authority *apikey.Authority) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		authority: authority,
	}
}

// Authenticate requires either a valid API key or a dashboard session JWT.
// API keys are checked against the scope implied by the method: reads need
// read, everything else needs write.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, ok := m.resolve(r); ok {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
	})
}

// OptionalAuth resolves identity when credentials are present but lets
// anonymous requests through; the defense chain then keys on IP.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, ok := m.resolve(r); ok {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) (context.Context, bool) {
	ctx := r.Context()

	if key := r.Header.Get("X-API-Key"); key != "" {
		required := "read"
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			required = "write"
		}
		result := m.authority.Validate(ctx, key, required, "")
		if !result.Valid {
			return ctx, false
		}
		ctx = context.WithValue(ctx, UserIDKey, result.UserID.String())
		ctx = context.WithValue(ctx, WorkspaceIDKey, result.WorkspaceID.String())
		ctx = context.WithValue(ctx, APIKeyHashKey, apikey.HashKey(key))
		return ctx, true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(m.jwtSecret), nil
		})
		if err == nil && token.Valid {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				userID, _ := claims["user_id"].(string)
				workspaceID, _ := claims["workspace_id"].(string)
				if userID != "" {
					ctx = context.WithValue(ctx, UserIDKey, userID)
					ctx = context.WithValue(ctx, WorkspaceIDKey, workspaceID)
					return ctx, true
				}
			}
		}
	}

	return ctx, false
}
