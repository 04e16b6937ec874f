package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/escrow"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
)

// EscrowHandler serves /v1/escrows endpoints.
type EscrowHandler struct {
	Escrow *escrow.Service
	Logger *slog.Logger
}

type partyRequest struct {
	CallerID string `json:"caller_id"`
}

type rejectionResponse struct {
	Error string `json:"error"`
	*escrow.Rejection
}

// Create handles POST /v1/escrows. EscrowCapCheck runs first and leaves the
// parsed body in the context.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := middleware.EscrowRequestFromCtx(r.Context())
	if req == nil {
		req = &middleware.EscrowRequest{}
		if err := decode(r, req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.ListingID == "" || req.BuyerID == "" || req.SellerID == "" {
		writeError(w, http.StatusBadRequest, "listing_id, buyer_id and seller_id are required")
		return
	}
	e, rej, err := h.Escrow.Fund(r.Context(), req.ListingID, req.BuyerID, req.SellerID, req.Amount)
	h.respond(w, "fund", http.StatusCreated, e, rej, err)
}

// Get handles GET /v1/escrows/{id}.
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	e, err := h.Escrow.GetTransaction(r.Context(), id)
	h.respond(w, "get", http.StatusOK, e, nil, err)
}

// List handles GET /v1/escrows?buyer= or ?seller=.
func (h *EscrowHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		list []*models.EscrowTransaction
		err  error
	)
	switch {
	case q.Get("buyer") != "":
		list, err = h.Escrow.GetByBuyer(r.Context(), q.Get("buyer"))
	case q.Get("seller") != "":
		list, err = h.Escrow.GetBySeller(r.Context(), q.Get("seller"))
	default:
		writeError(w, http.StatusBadRequest, "buyer or seller is required")
		return
	}
	if err != nil {
		h.Logger.Error("list escrows failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*models.EscrowTransaction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Deliver handles POST /v1/escrows/{id}/deliver.
func (h *EscrowHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.partyAction(w, r, "deliver", h.Escrow.MarkDelivered)
}

// Dispute handles POST /v1/escrows/{id}/dispute.
func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	h.partyAction(w, r, "dispute", h.Escrow.Dispute)
}

// Release handles POST /v1/escrows/{id}/release.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "release", h.Escrow.Release)
}

// Resolve handles POST /v1/escrows/{id}/resolve.
func (h *EscrowHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "resolve", h.Escrow.ResolveForSeller)
}

// Refund handles POST /v1/escrows/{id}/refund.
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "refund", h.Escrow.Refund)
}

type transition func(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, *escrow.Rejection, error)

type partyTransition func(ctx context.Context, id uuid.UUID, callerID string) (*models.EscrowTransaction, *escrow.Rejection, error)

func (h *EscrowHandler) action(w http.ResponseWriter, r *http.Request, op string, fn transition) {
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	e, rej, err := fn(r.Context(), id)
	h.respond(w, op, http.StatusOK, e, rej, err)
}

func (h *EscrowHandler) partyAction(w http.ResponseWriter, r *http.Request, op string, fn partyTransition) {
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	var req partyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CallerID == "" {
		writeError(w, http.StatusBadRequest, "caller_id is required")
		return
	}
	e, rej, err := fn(r.Context(), id, req.CallerID)
	h.respond(w, op, http.StatusOK, e, rej, err)
}

func (h *EscrowHandler) respond(w http.ResponseWriter, op string, okStatus int, e *models.EscrowTransaction, rej *escrow.Rejection, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, "escrow not found")
	case err != nil:
		h.Logger.Error("escrow "+op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	case rej != nil:
		writeJSON(w, rejectionStatus(rej), rejectionResponse{Error: rej.Error(), Rejection: rej})
	default:
		writeJSON(w, okStatus, e)
	}
}

func rejectionStatus(rej *escrow.Rejection) int {
	switch rej.Reason {
	case escrow.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case escrow.ReasonInvalidState:
		return http.StatusConflict
	case escrow.ReasonWrongParty:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func escrowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return uuid.Nil, false
	}
	return id, true
}
