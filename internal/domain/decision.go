package domain

// ─── Billing Decisions ──────────────────────────────────────────────────────
// Expected business outcomes (insufficient credit, duplicate minute, unknown
// token) are decision values, not errors. Only infrastructure failures
// propagate as Go errors.

// DecisionStatus is the outbound continuation decision for a billed minute.
type DecisionStatus string

const (
	StatusContinue  DecisionStatus = "continue"
	StatusWarning   DecisionStatus = "warning"
	StatusTerminate DecisionStatus = "terminate"
	StatusError     DecisionStatus = "error"
)

// MinuteDecision is the structured response to a minute-billing event.
// The caller always receives one of these for credit-exhaustion cases;
// raw errors are reserved for infrastructure failures.
type MinuteDecision struct {
	Status             DecisionStatus `json:"status"`
	CreditsRemaining   int64          `json:"creditsRemaining"`
	MinuteBilled       int64          `json:"minuteBilled"`
	TotalMinutesBilled int64          `json:"totalMinutesBilled"`
	ShouldTerminate    bool           `json:"shouldTerminate"`
	Message            string         `json:"message,omitempty"`
	GracePeriodSeconds int64          `json:"gracePeriodSeconds,omitempty"`
	AttemptID          string         `json:"attemptId,omitempty"`
}

// SessionEndResult is the response to an end-of-session reconciliation.
type SessionEndResult struct {
	Success            bool   `json:"success"`
	TotalMinutesBilled int64  `json:"totalMinutesBilled"`
	AttemptFound       bool   `json:"attemptFound"`
	FinalBalance       *int64 `json:"finalBalance,omitempty"`
}
