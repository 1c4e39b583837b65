package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MHGanainy/mvp-backend-sub000/internal/domain"
)

var _ domain.LedgerStore = (*DB)(nil)

// ─── Attempt Resolution ─────────────────────────────────────────────────────

// AttemptByToken resolves a correlation token to its attempt joined with the
// owning student's billing snapshot.
func (db *DB) AttemptByToken(ctx context.Context, token string) (*domain.ResolvedAttempt, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT a.id, a.student_id, a.correlation_token, a.simulation_name,
		       a.minutes_billed, a.duration_seconds, a.started_at, a.ended_at,
		       s.id, s.email, s.credit_balance, s.is_admin, s.created_at
		FROM interview_attempts a
		JOIN students s ON s.id = a.student_id
		WHERE a.correlation_token = ?
	`, token)

	var (
		res        domain.ResolvedAttempt
		adminInt   int
		startedStr string
		endedStr   sql.NullString
		createdStr string
	)
	err := row.Scan(
		&res.Attempt.ID, &res.Attempt.StudentID, &res.Attempt.CorrelationToken,
		&res.Attempt.SimulationName, &res.Attempt.MinutesBilled,
		&res.Attempt.DurationSeconds, &startedStr, &endedStr,
		&res.Student.ID, &res.Student.Email, &res.Student.CreditBalance,
		&adminInt, &createdStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt row: %w", err)
	}

	res.Student.IsAdmin = adminInt == 1
	res.Attempt.StartedAt = parseStoredTime(startedStr)
	res.Student.CreatedAt = parseStoredTime(createdStr)
	if endedStr.Valid {
		t := parseStoredTime(endedStr.String)
		res.Attempt.EndedAt = &t
	}
	return &res, nil
}

// ─── Atomic Debit ───────────────────────────────────────────────────────────

// DebitMinute performs the atomic unit of work for one chargeable minute:
//  1. Decrement the student's balance by the per-minute amount.
//  2. Abort with ErrNegativeBalanceRace if the result is negative.
//  3. Append one credit_transactions row snapshotting balance_after.
//  4. Advance the attempt's minute counter to the requested minute.
//
// All four steps commit or none do. The write lock serializes concurrent
// debits against the same database; the lock wait is bounded by busy_timeout
// and total duration by TxTimeout.
func (db *DB) DebitMinute(ctx context.Context, attempt domain.Attempt, student domain.Student, minute int64, secondsPerMinute int64) (*domain.DebitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, db.cfg.TxTimeout)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapTxErr("begin debit transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE students SET credit_balance = credit_balance - ? WHERE id = ?
	`, domain.CreditsPerMinute, student.ID); err != nil {
		return nil, wrapTxErr("decrement balance", err)
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT credit_balance FROM students WHERE id = ?
	`, student.ID).Scan(&newBalance); err != nil {
		return nil, wrapTxErr("read decremented balance", err)
	}
	if newBalance < 0 {
		// Another charge raced past the precheck; roll everything back.
		return nil, domain.ErrNegativeBalanceRace
	}

	// Guard against a concurrent request that billed this minute between
	// our guard check and this transaction. Nothing is committed if so.
	res, err := tx.ExecContext(ctx, `
		UPDATE interview_attempts
		SET minutes_billed = ?, duration_seconds = ?
		WHERE id = ? AND minutes_billed < ?
	`, minute, minute*secondsPerMinute, attempt.ID, minute)
	if err != nil {
		return nil, wrapTxErr("advance attempt minutes", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, wrapTxErr("advance attempt minutes", err)
	} else if n == 0 {
		return nil, domain.ErrMinuteAlreadyBilled
	}

	entry := domain.CreditTransaction{
		ID:           uuid.NewString(),
		StudentID:    student.ID,
		Type:         domain.TxDebit,
		Amount:       domain.CreditsPerMinute,
		BalanceAfter: newBalance,
		SourceType:   domain.SourceSessionUsage,
		SourceID:     attempt.ID,
		Description:  fmt.Sprintf("Interview session minute %d", minute),
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(id, student_id, type, amount, balance_after, source_type, source_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.StudentID, string(entry.Type), entry.Amount, entry.BalanceAfter,
		string(entry.SourceType), entry.SourceID, entry.Description,
		entry.CreatedAt.Format(time.RFC3339)); err != nil {
		return nil, wrapTxErr("append ledger entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr("commit debit transaction", err)
	}

	return &domain.DebitResult{
		NewBalance:    newBalance,
		MinutesBilled: minute,
		Transaction:   entry,
	}, nil
}

// ─── Balance-Neutral Updates ────────────────────────────────────────────────

// AdvanceMinutes advances the attempt's minute counter without touching the
// balance or the ledger. Monotonic: never decreases the counter. Returns the
// counter after the update.
func (db *DB) AdvanceMinutes(ctx context.Context, attemptID string, minutes int64, secondsPerMinute int64) (int64, error) {
	if _, err := db.db.ExecContext(ctx, `
		UPDATE interview_attempts
		SET minutes_billed = ?, duration_seconds = ?
		WHERE id = ? AND minutes_billed < ?
	`, minutes, minutes*secondsPerMinute, attemptID, minutes); err != nil {
		return 0, fmt.Errorf("advance minutes: %w", err)
	}

	var current int64
	if err := db.db.QueryRowContext(ctx, `
		SELECT minutes_billed FROM interview_attempts WHERE id = ?
	`, attemptID).Scan(&current); err != nil {
		return 0, fmt.Errorf("read minutes billed: %w", err)
	}
	return current, nil
}

// ClampBalance resets a negative balance to zero. Race recovery only — a
// negative balance means a concurrent operation already exhausted the
// credits. Returns the balance after clamping.
func (db *DB) ClampBalance(ctx context.Context, studentID string) (int64, error) {
	if _, err := db.db.ExecContext(ctx, `
		UPDATE students SET credit_balance = 0 WHERE id = ? AND credit_balance < 0
	`, studentID); err != nil {
		return 0, fmt.Errorf("clamp balance: %w", err)
	}

	var balance int64
	if err := db.db.QueryRowContext(ctx, `
		SELECT credit_balance FROM students WHERE id = ?
	`, studentID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read clamped balance: %w", err)
	}
	return balance, nil
}

// MarkEnded sets the attempt's end timestamp. Re-ending an attempt simply
// re-sets the timestamp.
func (db *DB) MarkEnded(ctx context.Context, attemptID string, endedAt time.Time) error {
	if _, err := db.db.ExecContext(ctx, `
		UPDATE interview_attempts SET ended_at = ? WHERE id = ?
	`, endedAt.UTC().Format(time.RFC3339), attemptID); err != nil {
		return fmt.Errorf("mark attempt ended: %w", err)
	}
	return nil
}

// ─── Seeding & Inspection ───────────────────────────────────────────────────
// Used by server wiring and tests; not part of the per-minute billing path.

// InsertStudent creates a student row.
func (db *DB) InsertStudent(ctx context.Context, s domain.Student) error {
	adminInt := 0
	if s.IsAdmin {
		adminInt = 1
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO students (id, email, credit_balance, is_admin)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.Email, s.CreditBalance, adminInt)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// InsertAttempt creates an attempt row.
func (db *DB) InsertAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO interview_attempts
			(id, student_id, correlation_token, simulation_name, minutes_billed, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.StudentID, a.CorrelationToken, a.SimulationName, a.MinutesBilled, a.DurationSeconds)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// StudentByID fetches a student row.
func (db *DB) StudentByID(ctx context.Context, id string) (*domain.Student, error) {
	var (
		s          domain.Student
		adminInt   int
		createdStr string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, email, credit_balance, is_admin, created_at FROM students WHERE id = ?
	`, id).Scan(&s.ID, &s.Email, &s.CreditBalance, &adminInt, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan student row: %w", err)
	}
	s.IsAdmin = adminInt == 1
	s.CreatedAt = parseStoredTime(createdStr)
	return &s, nil
}

// TransactionsForAttempt returns the ledger rows produced by one attempt,
// oldest first.
func (db *DB) TransactionsForAttempt(ctx context.Context, attemptID string) ([]domain.CreditTransaction, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, student_id, type, amount, balance_after, source_type, source_id, description, created_at
		FROM credit_transactions
		WHERE source_id = ?
		ORDER BY created_at, id
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query ledger rows: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		var (
			e          domain.CreditTransaction
			txType     string
			sourceType string
			createdStr string
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &txType, &e.Amount, &e.BalanceAfter,
			&sourceType, &e.SourceID, &e.Description, &createdStr); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		e.Type = domain.TransactionType(txType)
		e.SourceType = domain.SourceType(sourceType)
		e.CreatedAt = parseStoredTime(createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// storedTimeLayouts covers RFC3339 (our writes) and SQLite's datetime('now')
// default format (schema defaults).
var storedTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05"}

func parseStoredTime(s string) time.Time {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// wrapTxErr maps low-level transaction failures onto the domain taxonomy so
// callers can discriminate with errors.Is instead of message matching.
func wrapTxErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, domain.ErrTxTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
