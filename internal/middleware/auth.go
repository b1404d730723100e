// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/medtrust/predledger/internal/auth"
)

// RequireAuth returns a middleware that enforces bearer-token authentication.
// It extracts the token from the Authorization header, validates it, and
// stores the token's identity in the request context for downstream handlers.
// Requests without a valid access token get 401 with a JSON error body.
func RequireAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, r, "missing Authorization header")
				return
			}

			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
				writeAuthError(w, r, "Authorization header must be of the form 'Bearer <token>'")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				if err == auth.ErrExpiredToken {
					writeAuthError(w, r, "token has expired")
					return
				}
				writeAuthError(w, r, "invalid token")
				return
			}

			// Refresh tokens cannot be used to access protected resources
			if claims.Type != auth.TokenTypeAccess {
				writeAuthError(w, r, "token is not an access token")
				return
			}

			identity := claims.Identity()
			if identity == "" {
				writeAuthError(w, r, "token has no subject")
				return
			}

			// Mutate the request in place so outer middleware (logging)
			// sees the identity after the handler returns.
			*r = *r.WithContext(SetIdentity(r.Context(), identity))
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	SetErrorCode(r.Context(), "auth_failed")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	io.WriteString(w, `{"error":"auth_failed","message":"`+message+`"}`)
}
