package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/registry"
)

const ctxEscrowKey contextKey = "escrow_request"

// EscrowRequest is the body of POST /v1/escrows.
type EscrowRequest struct {
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	Amount    int64  `json:"amount"`
}

// EscrowRequestFromCtx returns the body parsed by EscrowCapCheck, or nil.
func EscrowRequestFromCtx(ctx context.Context) *EscrowRequest {
	req, _ := ctx.Value(ctxEscrowKey).(*EscrowRequest)
	return req
}

// TierLookup resolves an agent's trust tier.
type TierLookup interface {
	GetTier(ctx context.Context, agentID string) (models.Tier, error)
}

// EscrowCapCheck rejects escrows whose amount exceeds the seller tier's cap.
// Reads the body to extract the escrow fields, then replaces r.Body so
// downstream handlers can re-read it.
func EscrowCapCheck(tiers TierLookup, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek EscrowRequest
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			if peek.SellerID == "" {
				writeError(w, http.StatusBadRequest, "seller_id is required")
				return
			}

			tier, err := tiers.GetTier(r.Context(), peek.SellerID)
			if err != nil {
				log.Error("escrow cap: tier lookup failed", "seller", peek.SellerID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to check seller tier")
				return
			}
			if limit := registry.GetEscrowCap(tier); peek.Amount > limit {
				writeError(w, http.StatusForbidden, fmt.Sprintf("amount %d exceeds escrow cap %d for tier %s", peek.Amount, limit, tier))
				return
			}

			ctx := context.WithValue(r.Context(), ctxEscrowKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
