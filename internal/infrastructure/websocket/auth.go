// Package websocket pushes run events to long-lived client connections.
package websocket

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/notifyx/notifyx/internal/domain"
)

var (
	// ErrMissingToken is returned when no authentication token is provided
	ErrMissingToken = errors.New("missing authentication token")
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Authenticator validates the connection handshake and yields the
// request principal.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Principal, error)
}

// JWTAuth implements Authenticator using JWT bearer tokens.
type JWTAuth struct {
	secretKey string
	issuer    string
	audience  string
}

// NewJWTAuth creates a JWTAuth instance.
func NewJWTAuth(secretKey, issuer, audience string) *JWTAuth {
	return &JWTAuth{secretKey: secretKey, issuer: issuer, audience: audience}
}

// Authenticate extracts and validates a JWT from the request. Sources
// in order: Authorization header, "token" query parameter,
// Sec-WebSocket-Protocol (for browsers that cannot set headers).
func (a *JWTAuth) Authenticate(r *http.Request) (domain.Principal, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return a.validateToken(strings.TrimPrefix(authHeader, "Bearer "))
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return a.validateToken(token)
	}

	for _, proto := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		proto = strings.TrimSpace(proto)
		if strings.HasPrefix(proto, "bearer.") {
			return a.validateToken(strings.TrimPrefix(proto, "bearer."))
		}
	}

	return domain.Principal{}, ErrMissingToken
}

// Claims is the JWT claim set carried by NotifyX tokens.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (a *JWTAuth) validateToken(tokenString string) (domain.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.secretKey), nil
	}, jwt.WithIssuer(a.issuer), jwt.WithAudience(a.audience))
	if err != nil || !token.Valid {
		return domain.Principal{}, ErrInvalidToken
	}
	if claims.TenantID == "" {
		return domain.Principal{}, ErrInvalidToken
	}

	return domain.Principal{
		TenantID:    claims.TenantID,
		UserID:      claims.Subject,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}
