package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirror the Cognito claims the API Gateway authorizer forwards.
type Claims struct {
	TenantID string `json:"custom:tenant_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for local use.
func IssueToken(secret []byte, tenantID, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("devserver: secret must not be empty")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", errors.New("devserver: tenant must not be empty")
	}
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("devserver: parse token: %w", err)
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, errors.New("devserver: token has no tenant")
	}
	return claims, nil
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// authenticate requires a valid bearer token and stores its claims on the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "UNAUTHORIZED"})
			return
		}
		claims, err := parseToken(s.secret, strings.TrimSpace(raw))
		if err != nil {
			s.logger.Warn("token rejected", "err", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
