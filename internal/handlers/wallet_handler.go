package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/credits/internal/ledger"
)

// WalletHandler serves /v1/wallets/{wallet}/... endpoints.
type WalletHandler struct {
	Ledger *ledger.Service
	Logger *slog.Logger
}

type purchaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
	TxID   string          `json:"txid"`
}

type purchaseResponse struct {
	CreditsAdded int64 `json:"credits_added"`
}

type deductRequest struct {
	SessionID      string `json:"session_id"`
	CounterpartyID string `json:"counterparty_id"`
}

type reserveRequest struct {
	MemberCount int `json:"member_count"`
}

type amountRequest struct {
	Amount    int64  `json:"amount"`
	SessionID string `json:"session_id"`
}

// GetBalance handles GET /v1/wallets/{wallet}/balance.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Ledger.GetBalance(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.internal(w, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ListTransactions handles GET /v1/wallets/{wallet}/transactions?limit=.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	txs, err := h.Ledger.ListTransactions(r.Context(), r.PathValue("wallet"), limit)
	if err != nil {
		h.internal(w, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// Purchase handles POST /v1/wallets/{wallet}/purchase.
func (h *WalletHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	added, err := h.Ledger.PurchaseCredits(r.Context(), r.PathValue("wallet"), req.Amount, req.TxID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateProof):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, ledger.ErrAmountOverflow):
			writeError(w, http.StatusBadRequest, "amount too large")
			return
		}
		h.internal(w, "purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{CreditsAdded: added})
}

// DeductTurn handles POST /v1/wallets/{wallet}/deduct-turn.
func (h *WalletHandler) DeductTurn(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.Ledger.DeductTurnCredits(r.Context(), r.PathValue("wallet"), req.SessionID)
	h.result(w, "deduct turn", res, err)
}

// DeductAgentMessage handles POST /v1/wallets/{wallet}/deduct-agent-message.
func (h *WalletHandler) DeductAgentMessage(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CounterpartyID == "" {
		writeError(w, http.StatusBadRequest, "counterparty_id is required")
		return
	}
	res, err := h.Ledger.DeductAgentMessageCredits(r.Context(), r.PathValue("wallet"), req.CounterpartyID, req.SessionID)
	h.result(w, "deduct agent message", res, err)
}

// Reserve handles POST /v1/wallets/{wallet}/reserve.
func (h *WalletHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.Ledger.ReserveGroupCredits(r.Context(), r.PathValue("wallet"), req.MemberCount)
	h.result(w, "reserve", res, err)
}

// Consume handles POST /v1/wallets/{wallet}/consume.
func (h *WalletHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.Ledger.ConsumeReservedCredits(r.Context(), r.PathValue("wallet"), req.Amount, req.SessionID)
	h.result(w, "consume", res, err)
}

// Release handles POST /v1/wallets/{wallet}/release.
func (h *WalletHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.Ledger.ReleaseReservedCredits(r.Context(), r.PathValue("wallet"), req.Amount)
	h.result(w, "release", res, err)
}

// FirstTimeBonus handles POST /v1/wallets/{wallet}/first-time-bonus.
func (h *WalletHandler) FirstTimeBonus(w http.ResponseWriter, r *http.Request) {
	granted, err := h.Ledger.MaybeGrantFirstTimeCredits(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.internal(w, "first-time bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"granted": granted})
}

// CanStartSession handles GET /v1/wallets/{wallet}/can-start-session.
func (h *WalletHandler) CanStartSession(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Ledger.CanStartSession(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.internal(w, "can start session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_start": ok})
}

// result maps a DeductResult onto a status: 402 for insufficient credits,
// 400 for malformed input, 200 otherwise. The result is always the body.
func (h *WalletHandler) result(w http.ResponseWriter, op string, res ledger.DeductResult, err error) {
	if err != nil {
		h.internal(w, op, err)
		return
	}
	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	case res.Reason == ledger.ReasonInsufficientCredits:
		writeJSON(w, http.StatusPaymentRequired, res)
	default:
		writeJSON(w, http.StatusBadRequest, res)
	}
}

func (h *WalletHandler) internal(w http.ResponseWriter, op string, err error) {
	h.Logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
