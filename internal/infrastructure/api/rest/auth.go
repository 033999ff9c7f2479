package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/notifyx/notifyx/internal/domain"
)

type contextKey string

// principalKey carries the authenticated principal through the request
// context.
const principalKey contextKey = "principal"

// PrincipalFrom extracts the request principal.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}

// APIKeyResolver maps an API key to its principal.
type APIKeyResolver interface {
	ResolveAPIKey(key string) (domain.Principal, bool)
}

// StaticAPIKeys is an in-process APIKeyResolver.
type StaticAPIKeys map[string]domain.Principal

// ResolveAPIKey maps an API key to its principal.
func (s StaticAPIKeys) ResolveAPIKey(key string) (domain.Principal, bool) {
	p, ok := s[key]
	return p, ok
}

// AuthConfig configures the authentication middleware.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	APIKeys     APIKeyResolver
}

// jwtClaims is the claim set carried by NotifyX tokens.
type jwtClaims struct {
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// authMiddleware authenticates via Authorization: Bearer <jwt> or
// X-API-Key, attaches the principal, and honours X-Tenant-ID overrides
// for principals holding the cross-tenant permission.
func authMiddleware(config AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := authenticate(config, r)
		if !ok {
			writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "authentication required")
			return
		}

		if override := r.Header.Get("X-Tenant-ID"); override != "" && override != principal.TenantID {
			if !principal.HasPermission(domain.PermissionCrossTenantRead) {
				writeError(w, http.StatusForbidden, domain.ErrCodeForbidden, "tenant override not permitted")
				return
			}
			principal.TenantID = override
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authenticate(config AuthConfig, r *http.Request) (domain.Principal, bool) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return validateJWT(config, strings.TrimPrefix(header, "Bearer "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" && config.APIKeys != nil {
		return config.APIKeys.ResolveAPIKey(key)
	}
	return domain.Principal{}, false
}

func validateJWT(config AuthConfig, tokenString string) (domain.Principal, bool) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(config.JWTSecret), nil
	}, jwt.WithIssuer(config.JWTIssuer), jwt.WithAudience(config.JWTAudience))
	if err != nil || !token.Valid || claims.TenantID == "" {
		return domain.Principal{}, false
	}

	return domain.Principal{
		TenantID:    claims.TenantID,
		UserID:      claims.Subject,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, true
}
