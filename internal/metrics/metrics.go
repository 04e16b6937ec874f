package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_http_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credits_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	ledgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_ledger_operations_total",
		Help: "Ledger operations by operation and outcome.",
	}, []string{"op", "outcome"})

	ledgerCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_ledger_credits_total",
		Help: "Credits moved by transaction type.",
	}, []string{"type"})

	escrowTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_escrow_transitions_total",
		Help: "Committed escrow state transitions by target state.",
	}, []string{"state"})

	escrowRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_escrow_rejections_total",
		Help: "Rejected escrow operations by event.",
	}, []string{"event"})

	sweepSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_sweep_settled_total",
		Help: "Rows settled by background sweeps.",
	}, []string{"sweep"})

	tierChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_tier_changes_total",
		Help: "Identity tier writes by result.",
	}, []string{"result"})
)

// Middleware records per-request metrics. route should be the mux pattern,
// not the raw path, to keep label cardinality bounded.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLedgerOp records the outcome of a ledger operation
// ("ok", a failure reason, or "error").
func RecordLedgerOp(op, outcome string) {
	ledgerOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordCredits adds amount to the moved-credits counter for entryType.
func RecordCredits(entryType string, amount int64) {
	if amount > 0 {
		ledgerCreditsTotal.WithLabelValues(entryType).Add(float64(amount))
	}
}

func RecordEscrowTransition(state string) {
	escrowTransitionsTotal.WithLabelValues(state).Inc()
}

func RecordEscrowRejection(event string) {
	escrowRejectionsTotal.WithLabelValues(event).Inc()
}

func RecordSweep(sweep string, settled int) {
	sweepSettledTotal.WithLabelValues(sweep).Add(float64(settled))
}

// RecordTierChange records "upgraded", "unchanged" or "blocked_downgrade".
func RecordTierChange(result string) {
	tierChangesTotal.WithLabelValues(result).Inc()
}
