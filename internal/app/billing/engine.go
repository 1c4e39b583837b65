// Package billing implements the metered-billing engine: idempotent
// per-minute charges against a prepaid credit balance, the continuation
// policy, and end-of-session reconciliation.
//
// Flow per minute event:
//
//	resolve token → admin bypass → idempotency/sequencing guard →
//	balance precheck → atomic debit → policy classifier → decision
//
// Expected business outcomes (duplicate minute, insufficient credit,
// unknown token) come back as decision values; only infrastructure
// failures come back as errors.
package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MHGanainy/mvp-backend-sub000/internal/domain"
	"github.com/MHGanainy/mvp-backend-sub000/internal/infra/observability"
)

// Config controls billing policy.
type Config struct {
	// WarningThreshold is the balance at or under which a charged minute
	// returns WARNING instead of CONTINUE.
	WarningThreshold int64
	// SecondsPerMinute converts billed minutes to attempt duration.
	SecondsPerMinute int64
	// GraceLastCreditSeconds is the wind-down hint when the final credit
	// is spent.
	GraceLastCreditSeconds int64
	// GraceNoCreditSeconds is the wind-down hint when the precheck finds
	// no credit at all. The race-recovery path grants no grace.
	GraceNoCreditSeconds int64
}

// DefaultConfig returns production billing defaults.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:       2,
		SecondsPerMinute:       60,
		GraceLastCreditSeconds: 60,
		GraceNoCreditSeconds:   30,
	}
}

// Engine is the metered-billing engine. Construct with New; the logger and
// collector are injected so instances are isolated.
type Engine struct {
	store   domain.LedgerStore
	cfg     Config
	log     *slog.Logger
	metrics *Collector
}

// New creates a billing engine.
func New(store domain.LedgerStore, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		cfg:     cfg,
		log:     logger.With("component", "billing.Engine"),
		metrics: NewCollector(),
	}
}

// Metrics returns the engine's collector.
func (e *Engine) Metrics() *Collector { return e.metrics }

// ─── Minute Billing ─────────────────────────────────────────────────────────

// BillMinute processes one elapsed-minute event. The returned decision is
// always populated when err is nil; err is non-nil only for validation
// failures and infrastructure failures, which the caller may retry safely
// thanks to idempotency.
func (e *Engine) BillMinute(ctx context.Context, req domain.MinuteRequest) (domain.MinuteDecision, error) {
	if err := req.Validate(); err != nil {
		return domain.MinuteDecision{}, err
	}
	e.metrics.RecordRequest(domain.ParseTimestamp(req.Timestamp))

	res, err := e.store.AttemptByToken(ctx, req.CorrelationToken)
	if errors.Is(err, domain.ErrTokenNotFound) {
		e.metrics.RecordFailure()
		observability.MinuteRequests.WithLabelValues(string(domain.StatusError)).Inc()
		e.log.Warn("minute event for unknown token",
			"conversation_id", req.ConversationID, "minute", req.Minute)
		return errorDecision(req.Minute), nil
	}
	if err != nil {
		e.metrics.RecordFailure()
		return domain.MinuteDecision{}, err
	}
	attempt, student := res.Attempt, res.Student

	// Admin bypass: track minutes, never touch balance or ledger.
	if student.IsAdmin {
		total, err := e.store.AdvanceMinutes(ctx, attempt.ID, req.Minute, e.cfg.SecondsPerMinute)
		if err != nil {
			e.metrics.RecordFailure()
			return domain.MinuteDecision{}, err
		}
		d := adminDecision(req.Minute, total, attempt.ID)
		observability.MinuteRequests.WithLabelValues(string(d.Status)).Inc()
		return d, nil
	}

	// Idempotency guard: replays of the same or an earlier minute are
	// side-effect-free and return a stable response.
	if req.Minute <= attempt.MinutesBilled {
		e.metrics.RecordDuplicate()
		observability.DuplicateRequests.Inc()
		d := duplicateDecision(req.Minute, student.CreditBalance, attempt.MinutesBilled, attempt.ID)
		observability.MinuteRequests.WithLabelValues(string(d.Status)).Inc()
		return d, nil
	}

	// Sequencing: a gap means the transport skipped a minute event. The
	// transport owns elapsed time, so bill the requested minute and only
	// log the anomaly.
	if req.Minute > attempt.MinutesBilled+1 {
		observability.SequenceGaps.Inc()
		e.log.Warn("minute sequence gap",
			"attempt_id", attempt.ID,
			"minutes_billed", attempt.MinutesBilled,
			"requested_minute", req.Minute)
	}

	// Balance precheck: no credit, no transaction.
	if student.CreditBalance < domain.CreditsPerMinute {
		e.metrics.RecordInsufficient()
		observability.InsufficientCredit.WithLabelValues("precheck").Inc()
		d := e.insufficientDecision(req.Minute, attempt.MinutesBilled, attempt.ID)
		observability.MinuteRequests.WithLabelValues(string(d.Status)).Inc()
		return d, nil
	}

	start := time.Now()
	debit, err := e.store.DebitMinute(ctx, attempt, student, req.Minute, e.cfg.SecondsPerMinute)
	elapsed := time.Since(start)
	observability.TransactionDuration.Observe(elapsed.Seconds())

	switch {
	case errors.Is(err, domain.ErrNegativeBalanceRace):
		return e.recoverRace(ctx, req.Minute, attempt, student)

	case errors.Is(err, domain.ErrMinuteAlreadyBilled):
		// A concurrent request committed this minute between our snapshot
		// and the transaction. Re-read for a stable idempotent response.
		return e.replayAfterRace(ctx, req)

	case err != nil:
		e.metrics.RecordFailure()
		observability.TransactionFailures.Inc()
		return domain.MinuteDecision{}, err
	}

	e.metrics.RecordSuccess(elapsed)
	observability.MinutesBilled.Inc()
	d := e.classifyBalance(debit.NewBalance, req.Minute, debit.MinutesBilled, attempt.ID)
	observability.MinuteRequests.WithLabelValues(string(d.Status)).Inc()
	e.log.Info("minute billed",
		"attempt_id", attempt.ID,
		"minute", req.Minute,
		"balance_after", debit.NewBalance,
		"status", d.Status)
	return d, nil
}

// recoverRace handles a debit aborted by the negative-balance guard: some
// concurrent charge exhausted the balance after our precheck. Clamp the
// balance to zero outside the aborted transaction and terminate without
// grace.
func (e *Engine) recoverRace(ctx context.Context, minute int64, attempt domain.Attempt, student domain.Student) (domain.MinuteDecision, error) {
	e.log.Error("negative balance race detected",
		"attempt_id", attempt.ID,
		"student_id", student.ID,
		"minute", minute)
	observability.NegativeBalanceRaces.Inc()
	observability.InsufficientCredit.WithLabelValues("race").Inc()
	e.metrics.RecordInsufficient()

	if _, err := e.store.ClampBalance(ctx, student.ID); err != nil {
		e.log.Error("balance clamp failed", "student_id", student.ID, "error", err)
	}

	d := raceDecision(minute, attempt.MinutesBilled, attempt.ID)
	observability.MinuteRequests.WithLabelValues(string(d.Status)).Inc()
	return d, nil
}

// replayAfterRace re-resolves the attempt after a concurrent request billed
// the same minute, so the replay response reflects committed state.
func (e *Engine) replayAfterRace(ctx context.Context, req domain.MinuteRequest) (domain.MinuteDecision, error) {
	e.metrics.RecordDuplicate()
	observability.DuplicateRequests.Inc()

	res, err := e.store.AttemptByToken(ctx, req.CorrelationToken)
	if err != nil {
		e.metrics.RecordFailure()
		return domain.MinuteDecision{}, err
	}
	d := duplicateDecision(req.Minute, res.Student.CreditBalance, res.Attempt.MinutesBilled, res.Attempt.ID)
	observability.MinuteRequests.WithLabelValues(string(d.Status)).Inc()
	return d, nil
}
