package middleware

import (
	"context"
	"crypto/subtle"
	"lobbycast/internal/model"
	"lobbycast/internal/service"
	"net/http"
	"strings"
)

type contextKey string

const userKey contextKey = "user"

// ServiceKeyHeader carries the shared key of trusted backend callers
const ServiceKeyHeader = "X-Service-Key"

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	authSvc    *service.AuthService
	serviceKey string
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authSvc *service.AuthService, serviceKey string) *AuthMiddleware {
	return &AuthMiddleware{authSvc: authSvc, serviceKey: serviceKey}
}

// RequireUser validates a user JWT from the Authorization header
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		claims, err := m.authSvc.Validate(token)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, service.Identity(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireService admits backend callers presenting the shared service key.
// An empty key rejects every request.
func (m *AuthMiddleware) RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(ServiceKeyHeader)
		if m.serviceKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(m.serviceKey)) != 1 {
			http.Error(w, `{"error":"invalid service key"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUser returns the authenticated user from context
func GetUser(ctx context.Context) (model.UserIdentity, bool) {
	user, ok := ctx.Value(userKey).(model.UserIdentity)
	return user, ok
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
