// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Billing Constants ──────────────────────────────────────────────────────

const (
	// CreditsPerMinute is the fixed debit amount for one billed minute.
	CreditsPerMinute int64 = 1

	// UnlimitedCredits is the sentinel balance reported for admin accounts,
	// which are exempt from balance effects.
	UnlimitedCredits int64 = 999999
)

// ─── Student ────────────────────────────────────────────────────────────────

// Student holds the prepaid credit balance billed against.
// CreditBalance must never be observably negative after any completed
// operation. Admins keep minute tracking but are never charged.
type Student struct {
	ID            string    `json:"id"`
	Email         string    `json:"email,omitempty"`
	CreditBalance int64     `json:"credit_balance"`
	IsAdmin       bool      `json:"is_admin"`
	CreatedAt     time.Time `json:"created_at"`
}

// ─── Attempt ────────────────────────────────────────────────────────────────

// Attempt is one instance of a student taking a metered practice session.
// The correlation token links the external real-time conversation to this
// attempt; MinutesBilled is monotonically non-decreasing.
type Attempt struct {
	ID               string     `json:"id"`
	StudentID        string     `json:"student_id"`
	CorrelationToken string     `json:"correlation_token"`
	SimulationName   string     `json:"simulation_name,omitempty"`
	MinutesBilled    int64      `json:"minutes_billed"`
	DurationSeconds  int64      `json:"duration_seconds"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// ResolvedAttempt is the Attempt joined with its billing-relevant student
// snapshot, as returned by the attempt resolver.
type ResolvedAttempt struct {
	Attempt Attempt
	Student Student
}

// ─── Credit Ledger ──────────────────────────────────────────────────────────

// TransactionType represents the accounting side of a ledger entry.
type TransactionType string

const (
	TxDebit  TransactionType = "DEBIT"
	TxCredit TransactionType = "CREDIT"
)

// SourceType identifies what business event produced a ledger entry.
type SourceType string

const (
	SourceSessionUsage SourceType = "SESSION_USAGE"
)

// CreditTransaction is a single append-only row in the credit ledger.
// BalanceAfter is a snapshot taken inside the debit transaction and is
// never recomputed later. Rows are immutable once written.
type CreditTransaction struct {
	ID           string          `json:"id"`
	StudentID    string          `json:"student_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	SourceType   SourceType      `json:"source_type"`
	SourceID     string          `json:"source_id"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
