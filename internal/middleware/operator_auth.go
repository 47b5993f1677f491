package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/donation-reconciler/internal/auth"
)

// TokenValidator is satisfied by *auth.JWTService.
type TokenValidator interface {
	ValidateOperatorToken(token string) (*auth.Claims, error)
}

// OperatorAuth requires a valid operator bearer token and records its subject
// on the request context.
func OperatorAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
				writeError(w, r, http.StatusUnauthorized, "missing_token", "Bearer token required")
				return
			}

			claims, err := validator.ValidateOperatorToken(strings.TrimSpace(token))
			if err != nil {
				code, message := "invalid_token", "Invalid operator token"
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					code, message = "token_expired", "Operator token has expired"
				case errors.Is(err, auth.ErrWrongType):
					code, message = "wrong_token_type", "Token is not an operator token"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="operator", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, code, message)
				return
			}

			ctx := SetOperator(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
