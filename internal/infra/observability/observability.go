// Package observability exposes Prometheus metrics for the billing engine.
// These mirror the engine's injected collector for scraping; the collector
// itself (snapshot/reset, per-engine counters) lives with the engine so test
// instances stay isolated.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Billing Metrics ────────────────────────────────────────────────────────

// MinuteRequests counts minute-billing events by outcome status.
var MinuteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "minutes",
	Name:      "requests_total",
	Help:      "Total minute-billing requests by decision status.",
}, []string{"status"})

// MinutesBilled counts successfully debited minutes.
var MinutesBilled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "minutes",
	Name:      "billed_total",
	Help:      "Total minutes debited across all attempts.",
})

// DuplicateRequests counts idempotent replays of already-billed minutes.
var DuplicateRequests = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "minutes",
	Name:      "duplicate_requests_total",
	Help:      "Total minute events short-circuited by the idempotency guard.",
})

// SequenceGaps counts minute events that skipped ahead of the billed counter.
var SequenceGaps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "minutes",
	Name:      "sequence_gaps_total",
	Help:      "Total minute events with a gap above the billed counter.",
})

// InsufficientCredit counts precheck rejections and race recoveries.
var InsufficientCredit = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "credits",
	Name:      "insufficient_total",
	Help:      "Total insufficient-credit events by detection point.",
}, []string{"stage"})

// NegativeBalanceRaces counts debits aborted after the balance went negative.
var NegativeBalanceRaces = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "credits",
	Name:      "negative_balance_races_total",
	Help:      "Total debit transactions rolled back by the negative-balance guard.",
})

// TransactionDuration tracks debit transaction latency.
var TransactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "billing",
	Subsystem: "ledger",
	Name:      "transaction_duration_seconds",
	Help:      "Debit transaction duration including lock wait.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// TransactionFailures counts debit transactions that failed outright.
var TransactionFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "ledger",
	Name:      "transaction_failures_total",
	Help:      "Total debit transactions that failed with an infrastructure error.",
})

// SessionEnds counts end-of-session reconciliations.
var SessionEnds = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "sessions",
	Name:      "ends_total",
	Help:      "Total session-end reconciliations by whether the attempt resolved.",
}, []string{"found"})
