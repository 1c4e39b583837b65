package billing

import "github.com/MHGanainy/mvp-backend-sub000/internal/domain"

// ─── Policy Classifier ──────────────────────────────────────────────────────
// Pure functions from post-transaction state to continuation decisions.
// No store access, no side effects.

// classifyBalance maps the balance remaining after a committed debit to the
// outbound decision for that minute.
func (e *Engine) classifyBalance(balance, minute, totalBilled int64, attemptID string) domain.MinuteDecision {
	d := domain.MinuteDecision{
		CreditsRemaining:   balance,
		MinuteBilled:       minute,
		TotalMinutesBilled: totalBilled,
		AttemptID:          attemptID,
	}

	switch {
	case balance == 0:
		d.Status = domain.StatusTerminate
		d.ShouldTerminate = true
		d.Message = "Last credit used. Session will end shortly."
		d.GracePeriodSeconds = e.cfg.GraceLastCreditSeconds
	case balance <= e.cfg.WarningThreshold:
		d.Status = domain.StatusWarning
		d.Message = "Low credit balance."
	default:
		d.Status = domain.StatusContinue
	}
	return d
}

// duplicateDecision is the stable response for an idempotent replay of an
// already-billed minute. Always CONTINUE, reflecting current state, no write.
func duplicateDecision(minute, balance, totalBilled int64, attemptID string) domain.MinuteDecision {
	return domain.MinuteDecision{
		Status:             domain.StatusContinue,
		CreditsRemaining:   balance,
		MinuteBilled:       minute,
		TotalMinutesBilled: totalBilled,
		AttemptID:          attemptID,
		Message:            "Minute already billed.",
	}
}

// adminDecision is the bypass response for privileged accounts: tracked,
// never charged, sentinel unlimited balance.
func adminDecision(minute, totalBilled int64, attemptID string) domain.MinuteDecision {
	return domain.MinuteDecision{
		Status:             domain.StatusContinue,
		CreditsRemaining:   domain.UnlimitedCredits,
		MinuteBilled:       minute,
		TotalMinutesBilled: totalBilled,
		AttemptID:          attemptID,
	}
}

// insufficientDecision is the precheck outcome when no credit remains:
// no transaction is attempted, the caller gets a wind-down grace period.
func (e *Engine) insufficientDecision(minute, totalBilled int64, attemptID string) domain.MinuteDecision {
	return domain.MinuteDecision{
		Status:             domain.StatusTerminate,
		CreditsRemaining:   0,
		MinuteBilled:       minute,
		TotalMinutesBilled: totalBilled,
		ShouldTerminate:    true,
		Message:            "Insufficient credits. Session must end.",
		GracePeriodSeconds: e.cfg.GraceNoCreditSeconds,
		AttemptID:          attemptID,
	}
}

// raceDecision is the recovery outcome after a NegativeBalanceRace: the
// balance was exhausted by a concurrent charge, terminate without grace.
func raceDecision(minute, totalBilled int64, attemptID string) domain.MinuteDecision {
	return domain.MinuteDecision{
		Status:             domain.StatusTerminate,
		CreditsRemaining:   0,
		MinuteBilled:       minute,
		TotalMinutesBilled: totalBilled,
		ShouldTerminate:    true,
		Message:            "Credit balance exhausted.",
		AttemptID:          attemptID,
	}
}

// errorDecision is the terminal response when the token resolves to nothing.
func errorDecision(minute int64) domain.MinuteDecision {
	return domain.MinuteDecision{
		Status:          domain.StatusError,
		MinuteBilled:    minute,
		ShouldTerminate: true,
		Message:         "Attempt not found for correlation token. Stop the session.",
	}
}
