package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// operatorClaims is the shape the daemon expects on an operator token. The
// daemon never signs one itself — tokens are issued by whatever collaborator
// process owns the operator identity provider; hostctld only verifies them
// at the control socket boundary.
type operatorClaims struct {
	Operator string `json:"operator,omitempty"`
	jwt.RegisteredClaims
}

// requireOperatorToken wraps next with bearer-token verification when
// secret is non-empty. An empty secret leaves the control socket
// unauthenticated, matching local/dev deployments that front hostctld with
// their own network boundary.
func requireOperatorToken(secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}
	key := []byte(secret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token, err := jwt.ParseWithClaims(raw, &operatorClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid operator token", http.StatusUnauthorized)
			return
		}
		claims, ok := token.Claims.(*operatorClaims)
		if !ok || strings.TrimSpace(claims.Operator) == "" {
			http.Error(w, "invalid operator token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
