package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const ctxOperatorKey contextKey = "operator"

// TokenValidator verifies an operator JWT and returns its subject and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// RequireRole admits requests bearing a valid operator token with the given role.
func RequireRole(tokens TokenValidator, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			id, got, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if got != role {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := context.WithValue(r.Context(), ctxOperatorKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromCtx returns the operator id set by RequireRole.
func OperatorFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxOperatorKey).(uuid.UUID)
	return id, ok
}
