package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/inaiurai/credits/internal/models"
)

type contextKey string

const ctxCallerKey contextKey = "caller"

// Caller is the platform service that authenticated the request.
type Caller struct {
	KeyID string
	Name  string
}

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// APIKeyAuth authenticates requests by hashing the Bearer token (SHA-256)
// and looking it up in api_keys. On success the Caller is set in the request
// context.
func APIKeyAuth(repo APIKeyRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}

			key, err := repo.FindByKeyHash(r.Context(), HashKey(raw))
			if err != nil || key == nil || !key.IsActive {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := WithCaller(r.Context(), &Caller{KeyID: key.ID.String(), Name: key.CallerName})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromCtx returns the authenticated caller or nil.
func CallerFromCtx(ctx context.Context) *Caller {
	c, _ := ctx.Value(ctxCallerKey).(*Caller)
	return c
}

func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, ctxCallerKey, c)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey is the api_keys.key_hash of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
