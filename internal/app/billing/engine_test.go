package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MHGanainy/mvp-backend-sub000/internal/domain"
	"github.com/MHGanainy/mvp-backend-sub000/internal/infra/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// Billing Engine Tests
// ═══════════════════════════════════════════════════════════════════════════

func newTestEngine(t *testing.T) (*Engine, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.OpenMemory(sqlite.DefaultConfig())
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, DefaultConfig(), nil), db
}

func seedSession(t *testing.T, db *sqlite.DB, balance int64, admin bool) (domain.Student, domain.Attempt) {
	t.Helper()
	student := domain.Student{
		ID:            uuid.NewString(),
		CreditBalance: balance,
		IsAdmin:       admin,
	}
	if err := db.InsertStudent(context.Background(), student); err != nil {
		t.Fatal(err)
	}
	attempt := domain.Attempt{
		ID:               uuid.NewString(),
		StudentID:        student.ID,
		CorrelationToken: "tok-" + uuid.NewString(),
	}
	if err := db.InsertAttempt(context.Background(), attempt); err != nil {
		t.Fatal(err)
	}
	return student, attempt
}

func minuteReq(token string, minute int64) domain.MinuteRequest {
	return domain.MinuteRequest{
		CorrelationToken: token,
		ConversationID:   "conv-1",
		Minute:           minute,
	}
}

// ─── Scenario A: normal charge ──────────────────────────────────────────────

func TestBillMinute_FirstMinute(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 5, false)

	d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
	if err != nil {
		t.Fatalf("BillMinute() error: %v", err)
	}
	if d.Status != domain.StatusContinue {
		t.Errorf("status = %q, want continue", d.Status)
	}
	if d.CreditsRemaining != 4 {
		t.Errorf("creditsRemaining = %d, want 4", d.CreditsRemaining)
	}
	if d.MinuteBilled != 1 {
		t.Errorf("minuteBilled = %d, want 1", d.MinuteBilled)
	}
	if d.TotalMinutesBilled != 1 {
		t.Errorf("totalMinutesBilled = %d, want 1", d.TotalMinutesBilled)
	}
	if d.ShouldTerminate {
		t.Error("shouldTerminate = true, want false")
	}
	if d.AttemptID != attempt.ID {
		t.Errorf("attemptId = %q, want %q", d.AttemptID, attempt.ID)
	}

	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(txs))
	}
	if txs[0].Amount != 1 || txs[0].BalanceAfter != 4 {
		t.Errorf("ledger row = amount %d balanceAfter %d, want 1/4", txs[0].Amount, txs[0].BalanceAfter)
	}
}

// ─── Scenario B: idempotent replay ──────────────────────────────────────────

func TestBillMinute_IdempotentReplay(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 5, false)

	first, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
	if err != nil {
		t.Fatal(err)
	}
	replay, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}

	if replay.Status != domain.StatusContinue {
		t.Errorf("replay status = %q, want continue", replay.Status)
	}
	if replay.CreditsRemaining != first.CreditsRemaining {
		t.Errorf("replay creditsRemaining = %d, want %d", replay.CreditsRemaining, first.CreditsRemaining)
	}
	if replay.MinuteBilled != first.MinuteBilled {
		t.Errorf("replay minuteBilled = %d, want %d", replay.MinuteBilled, first.MinuteBilled)
	}
	if replay.TotalMinutesBilled != first.TotalMinutesBilled {
		t.Errorf("replay totalMinutesBilled = %d, want %d", replay.TotalMinutesBilled, first.TotalMinutesBilled)
	}

	// Exactly one ledger row total
	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(txs))
	}

	snap := e.Metrics().Snapshot()
	if snap.DuplicateRequests != 1 {
		t.Errorf("duplicateRequests = %d, want 1", snap.DuplicateRequests)
	}
	if snap.SuccessfulBillings != 1 {
		t.Errorf("successfulBillings = %d, want 1", snap.SuccessfulBillings)
	}
}

// ─── Scenario C: last credit used ───────────────────────────────────────────

func TestBillMinute_LastCredit(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 1, false)

	d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusTerminate {
		t.Errorf("status = %q, want terminate", d.Status)
	}
	if d.CreditsRemaining != 0 {
		t.Errorf("creditsRemaining = %d, want 0", d.CreditsRemaining)
	}
	if !d.ShouldTerminate {
		t.Error("shouldTerminate = false, want true")
	}
	if d.GracePeriodSeconds != 60 {
		t.Errorf("gracePeriodSeconds = %d, want 60", d.GracePeriodSeconds)
	}
	if d.Message == "" {
		t.Error("terminate decision should carry a message")
	}

	// The minute was charged: ledger row exists
	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(txs))
	}
}

// ─── Scenario D: precheck insufficient ──────────────────────────────────────

func TestBillMinute_NoCredit(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 0, false)

	d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusTerminate {
		t.Errorf("status = %q, want terminate", d.Status)
	}
	if d.CreditsRemaining != 0 {
		t.Errorf("creditsRemaining = %d, want 0", d.CreditsRemaining)
	}
	if d.GracePeriodSeconds != 30 {
		t.Errorf("gracePeriodSeconds = %d, want 30", d.GracePeriodSeconds)
	}

	// No transaction attempted
	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 0 {
		t.Errorf("ledger rows = %d, want 0", len(txs))
	}
	snap := e.Metrics().Snapshot()
	if snap.InsufficientCredit != 1 {
		t.Errorf("insufficientCredit = %d, want 1", snap.InsufficientCredit)
	}
}

// ─── Scenario F: unknown token ──────────────────────────────────────────────

func TestBillMinute_UnknownToken(t *testing.T) {
	e, _ := newTestEngine(t)

	d, err := e.BillMinute(context.Background(), minuteReq("no-such-token", 1))
	if err != nil {
		t.Fatalf("unknown token must be a decision, not an error: %v", err)
	}
	if d.Status != domain.StatusError {
		t.Errorf("status = %q, want error", d.Status)
	}
	if !d.ShouldTerminate {
		t.Error("shouldTerminate = false, want true")
	}
}

// ─── Warning threshold ──────────────────────────────────────────────────────

func TestBillMinute_WarningBand(t *testing.T) {
	tests := []struct {
		balance    int64
		wantStatus domain.DecisionStatus
	}{
		{5, domain.StatusContinue}, // 5→4, above threshold
		{4, domain.StatusContinue}, // 4→3, above threshold
		{3, domain.StatusWarning},  // 3→2, at threshold
		{2, domain.StatusWarning},  // 2→1, inside band
		{1, domain.StatusTerminate},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("balance_%d", tt.balance), func(t *testing.T) {
			e, db := newTestEngine(t)
			_, attempt := seedSession(t, db, tt.balance, false)

			d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
			if err != nil {
				t.Fatal(err)
			}
			if d.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", d.Status, tt.wantStatus)
			}
		})
	}
}

// ─── Admin bypass ───────────────────────────────────────────────────────────

func TestBillMinute_AdminExemption(t *testing.T) {
	e, db := newTestEngine(t)
	student, attempt := seedSession(t, db, 3, true)

	for minute := int64(1); minute <= 5; minute++ {
		d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, minute))
		if err != nil {
			t.Fatalf("minute %d: %v", minute, err)
		}
		if d.Status != domain.StatusContinue {
			t.Errorf("minute %d: status = %q, want continue", minute, d.Status)
		}
		if d.CreditsRemaining != domain.UnlimitedCredits {
			t.Errorf("minute %d: creditsRemaining = %d, want unlimited sentinel", minute, d.CreditsRemaining)
		}
	}

	// Balance untouched, no ledger rows, minutes tracked
	s, _ := db.StudentByID(context.Background(), student.ID)
	if s.CreditBalance != 3 {
		t.Errorf("admin balance = %d, want 3", s.CreditBalance)
	}
	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 0 {
		t.Errorf("ledger rows = %d, want 0 for admin", len(txs))
	}
	resolved, _ := db.AttemptByToken(context.Background(), attempt.CorrelationToken)
	if resolved.Attempt.MinutesBilled != 5 {
		t.Errorf("admin minutesBilled = %d, want 5", resolved.Attempt.MinutesBilled)
	}
}

// ─── Sequence gaps and monotonicity ─────────────────────────────────────────

func TestBillMinute_SequenceGapBillsRequestedMinute(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 10, false)

	// Minute 1, then minute 4 (gap of 2 skipped minutes)
	if _, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1)); err != nil {
		t.Fatal(err)
	}
	d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 4))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusContinue {
		t.Errorf("status = %q, want continue", d.Status)
	}
	// Only the requested minute was billed, not the skipped ones
	if d.CreditsRemaining != 8 {
		t.Errorf("creditsRemaining = %d, want 8 (two debits)", d.CreditsRemaining)
	}
	if d.TotalMinutesBilled != 4 {
		t.Errorf("totalMinutesBilled = %d, want 4", d.TotalMinutesBilled)
	}

	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(txs))
	}
}

func TestBillMinute_OutOfOrderNeverDecreases(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 10, false)

	order := []int64{1, 2, 5, 3, 2, 4, 1}
	var maxSeen int64
	for _, minute := range order {
		d, err := e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, minute))
		if err != nil {
			t.Fatalf("minute %d: %v", minute, err)
		}
		if d.TotalMinutesBilled < maxSeen {
			t.Errorf("minute %d: totalMinutesBilled decreased to %d (had %d)", minute, d.TotalMinutesBilled, maxSeen)
		}
		if d.TotalMinutesBilled > maxSeen {
			maxSeen = d.TotalMinutesBilled
		}
	}
	if maxSeen != 5 {
		t.Errorf("final totalMinutesBilled = %d, want 5", maxSeen)
	}
	// Three chargeable events (1, 2, 5); replays of 3, 2, 4, 1 are all at or
	// below the billed counter after 5 was charged.
	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 3 {
		t.Errorf("ledger rows = %d, want 3", len(txs))
	}
}

// ─── Validation ─────────────────────────────────────────────────────────────

func TestBillMinute_RejectsMalformed(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []domain.MinuteRequest{
		{CorrelationToken: "", ConversationID: "c", Minute: 1},
		{CorrelationToken: "t", ConversationID: "", Minute: 1},
		{CorrelationToken: "t", ConversationID: "c", Minute: 0},
		{CorrelationToken: "t", ConversationID: "c", Minute: -3},
	}
	for i, req := range tests {
		if _, err := e.BillMinute(context.Background(), req); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}
}

// ─── Race recovery and hard failures (stub store) ───────────────────────────

type stubStore struct {
	resolved   *domain.ResolvedAttempt
	debitErr   error
	clampCalls int
}

func (s *stubStore) AttemptByToken(ctx context.Context, token string) (*domain.ResolvedAttempt, error) {
	if s.resolved == nil {
		return nil, domain.ErrTokenNotFound
	}
	return s.resolved, nil
}

func (s *stubStore) DebitMinute(ctx context.Context, attempt domain.Attempt, student domain.Student, minute int64, secondsPerMinute int64) (*domain.DebitResult, error) {
	if s.debitErr != nil {
		return nil, s.debitErr
	}
	return &domain.DebitResult{NewBalance: student.CreditBalance - 1, MinutesBilled: minute}, nil
}

func (s *stubStore) AdvanceMinutes(ctx context.Context, attemptID string, minutes int64, secondsPerMinute int64) (int64, error) {
	return minutes, nil
}

func (s *stubStore) ClampBalance(ctx context.Context, studentID string) (int64, error) {
	s.clampCalls++
	return 0, nil
}

func (s *stubStore) MarkEnded(ctx context.Context, attemptID string, endedAt time.Time) error {
	return nil
}

func TestBillMinute_NegativeBalanceRaceRecovery(t *testing.T) {
	store := &stubStore{
		resolved: &domain.ResolvedAttempt{
			Attempt: domain.Attempt{ID: "a1", CorrelationToken: "tok", MinutesBilled: 3},
			Student: domain.Student{ID: "s1", CreditBalance: 1},
		},
		debitErr: domain.ErrNegativeBalanceRace,
	}
	e := New(store, DefaultConfig(), nil)

	d, err := e.BillMinute(context.Background(), minuteReq("tok", 4))
	if err != nil {
		t.Fatalf("race must be recovered, not propagated: %v", err)
	}
	if d.Status != domain.StatusTerminate {
		t.Errorf("status = %q, want terminate", d.Status)
	}
	if d.CreditsRemaining != 0 {
		t.Errorf("creditsRemaining = %d, want 0", d.CreditsRemaining)
	}
	if d.GracePeriodSeconds != 0 {
		t.Errorf("gracePeriodSeconds = %d, want none for race recovery", d.GracePeriodSeconds)
	}
	if store.clampCalls != 1 {
		t.Errorf("clampCalls = %d, want 1", store.clampCalls)
	}
	snap := e.Metrics().Snapshot()
	if snap.InsufficientCredit != 1 {
		t.Errorf("insufficientCredit = %d, want 1", snap.InsufficientCredit)
	}
}

func TestBillMinute_TransactionFailurePropagates(t *testing.T) {
	hardErr := errors.New("database is locked")
	store := &stubStore{
		resolved: &domain.ResolvedAttempt{
			Attempt: domain.Attempt{ID: "a1", CorrelationToken: "tok"},
			Student: domain.Student{ID: "s1", CreditBalance: 5},
		},
		debitErr: hardErr,
	}
	e := New(store, DefaultConfig(), nil)

	_, err := e.BillMinute(context.Background(), minuteReq("tok", 1))
	if !errors.Is(err, hardErr) {
		t.Fatalf("err = %v, want the store failure propagated", err)
	}
	snap := e.Metrics().Snapshot()
	if snap.FailedBillings != 1 {
		t.Errorf("failedBillings = %d, want 1", snap.FailedBillings)
	}
}

// ─── Concurrency: balance floor and per-minute idempotence ──────────────────

func TestBillMinute_ConcurrentSameMinute(t *testing.T) {
	e, db := newTestEngine(t)
	_, attempt := seedSession(t, db, 5, false)

	const workers = 8
	var wg sync.WaitGroup
	decisions := make([]domain.MinuteDecision, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = e.BillMinute(context.Background(), minuteReq(attempt.CorrelationToken, 1))
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if decisions[i].Status != domain.StatusContinue {
			t.Errorf("worker %d: status = %q, want continue", i, decisions[i].Status)
		}
	}

	// Exactly one charge for minute 1
	txs, _ := db.TransactionsForAttempt(context.Background(), attempt.ID)
	if len(txs) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(txs))
	}
	resolved, _ := db.AttemptByToken(context.Background(), attempt.CorrelationToken)
	if resolved.Student.CreditBalance != 4 {
		t.Errorf("balance = %d, want 4", resolved.Student.CreditBalance)
	}
}

func TestBillMinute_ConcurrentBalanceFloor(t *testing.T) {
	e, db := newTestEngine(t)
	student, attemptA := seedSession(t, db, 3, false)
	attemptB := domain.Attempt{
		ID:               uuid.NewString(),
		StudentID:        student.ID,
		CorrelationToken: "tok-" + uuid.NewString(),
	}
	if err := db.InsertAttempt(context.Background(), attemptB); err != nil {
		t.Fatal(err)
	}

	// Six charges race for three credits across two attempts.
	var wg sync.WaitGroup
	for _, token := range []string{attemptA.CorrelationToken, attemptB.CorrelationToken} {
		for minute := int64(1); minute <= 3; minute++ {
			wg.Add(1)
			go func(token string, minute int64) {
				defer wg.Done()
				// Hard failures would fail the test via the balance check below.
				_, _ = e.BillMinute(context.Background(), minuteReq(token, minute))
			}(token, minute)
		}
	}
	wg.Wait()

	s, err := db.StudentByID(context.Background(), student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.CreditBalance < 0 {
		t.Errorf("balance = %d, must never be negative", s.CreditBalance)
	}

	txsA, _ := db.TransactionsForAttempt(context.Background(), attemptA.ID)
	txsB, _ := db.TransactionsForAttempt(context.Background(), attemptB.ID)
	if got := len(txsA) + len(txsB); got > 3 {
		t.Errorf("ledger rows = %d, want at most 3 (three credits existed)", got)
	}
}
