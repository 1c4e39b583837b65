package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MHGanainy/mvp-backend-sub000/internal/domain"
)

// ─── Billing Handlers ───────────────────────────────────────────────────────
// Decisions are HTTP 200 — the body carries status/shouldTerminate, and the
// caller must be able to tell "billing decided to stop you" (a decision)
// from "billing could not be evaluated" (a 4xx/5xx).

// handleSessionMinute processes one elapsed-minute event.
// POST /api/billing/session-minute
func (s *Server) handleSessionMinute(w http.ResponseWriter, r *http.Request) {
	var req domain.MinuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	decision, err := s.engine.BillMinute(r.Context(), req)
	if errors.Is(err, domain.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		// Infrastructure failure: nothing committed, caller may retry.
		writeError(w, http.StatusInternalServerError, "billing could not be evaluated")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// handleSessionEnd reconciles an attempt when its session ends.
// POST /api/billing/session-end
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.engine.EndSession(r.Context(), req)
	if errors.Is(err, domain.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session end could not be recorded")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCollectorSnapshot returns the engine's advisory counters.
// GET /api/billing/metrics
func (s *Server) handleCollectorSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Metrics().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests":             snap.TotalRequests,
		"successful_billings":        snap.SuccessfulBillings,
		"failed_billings":            snap.FailedBillings,
		"duplicate_requests":         snap.DuplicateRequests,
		"insufficient_credit_events": snap.InsufficientCredit,
		"total_minutes_billed":       snap.TotalMinutesBilled,
		"avg_tx_latency_ms":          snap.AvgTxLatency.Milliseconds(),
		"last_processed":             snap.LastProcessed,
		"uptime_seconds":             int64(snap.Uptime.Seconds()),
	})
}
