package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// DebitResult carries the state written by one committed debit transaction.
type DebitResult struct {
	NewBalance    int64
	MinutesBilled int64
	Transaction   CreditTransaction
}

// LedgerStore abstracts the durable ledger storage: student balances, attempt
// records, and the append-only credit transaction log. Implementations must
// provide atomic multi-row transactions with bounded lock waits.
type LedgerStore interface {
	// AttemptByToken resolves a correlation token to its attempt and the
	// billing snapshot of the owning student. Returns ErrTokenNotFound
	// when no attempt matches.
	AttemptByToken(ctx context.Context, token string) (*ResolvedAttempt, error)

	// DebitMinute performs the atomic unit of work for one chargeable
	// minute: decrement the student balance, append the ledger row, and
	// advance the attempt's minute counter. Returns ErrNegativeBalanceRace
	// (with nothing committed) if the decrement would take the balance
	// below zero.
	DebitMinute(ctx context.Context, attempt Attempt, student Student, minute int64, secondsPerMinute int64) (*DebitResult, error)

	// AdvanceMinutes updates the attempt's minute counter without touching
	// the balance or the ledger. Monotonic: a requested value at or below
	// the current counter is a no-op. Used by the admin bypass and the
	// session finalizer.
	AdvanceMinutes(ctx context.Context, attemptID string, minutes int64, secondsPerMinute int64) (int64, error)

	// ClampBalance resets a student's balance to zero if it is negative.
	// Race recovery only; returns the balance after clamping.
	ClampBalance(ctx context.Context, studentID string) (int64, error)

	// MarkEnded sets the attempt's end timestamp. Safe to call repeatedly.
	MarkEnded(ctx context.Context, attemptID string, endedAt time.Time) error
}
