// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// DelegateIDKey is the context key for the authenticated delegate.
	DelegateIDKey ContextKey = "delegate_id"
)

// Claims represents JWT claims. Identity management lives outside the
// pipeline; only the delegate claim is consumed here.
type Claims struct {
	jwt.RegisteredClaims
	DelegateID string `json:"delegate_id"`
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			delegateID := claims.DelegateID
			if delegateID == "" {
				delegateID = claims.Subject
			}

			ctx := context.WithValue(r.Context(), DelegateIDKey, delegateID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDelegateID gets the authenticated delegate id from context.
func GetDelegateID(ctx context.Context) string {
	if v := ctx.Value(DelegateIDKey); v != nil {
		return v.(string)
	}
	return ""
}
