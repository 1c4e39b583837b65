package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. The surrounding
// layers discriminate with errors.Is, never by matching message strings.

var (
	// Resolution errors
	ErrTokenNotFound = errors.New("no attempt matches correlation token")

	// Billing errors
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNegativeBalanceRace = errors.New("balance went negative inside debit transaction")
	ErrMinuteAlreadyBilled = errors.New("minute already billed by a concurrent request")

	// Store errors
	ErrTxTimeout     = errors.New("ledger transaction timed out")
	ErrStoreConflict = errors.New("ledger store constraint violation")

	// Input errors
	ErrInvalidRequest = errors.New("invalid billing request")
)
