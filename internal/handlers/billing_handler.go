package handlers

import (
	"net/http"
	"strconv"

	"github.com/inaiurai/credits/internal/billing"
)

// BillingQuote handles GET /v1/billing/quote?credits=.
func BillingQuote(w http.ResponseWriter, r *http.Request) {
	credits, err := strconv.ParseInt(r.URL.Query().Get("credits"), 10, 64)
	if err != nil || credits <= 0 {
		writeError(w, http.StatusBadRequest, "credits must be a positive integer")
		return
	}
	q, err := billing.PurchaseQuote(credits, billing.DefaultSchedule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}
