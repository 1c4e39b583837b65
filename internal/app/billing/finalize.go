package billing

import (
	"context"
	"errors"

	"github.com/MHGanainy/mvp-backend-sub000/internal/domain"
	"github.com/MHGanainy/mvp-backend-sub000/internal/infra/observability"
)

// ─── Session Finalizer ──────────────────────────────────────────────────────

// EndSession reconciles an attempt's minute counter when a session ends.
// The final counter is max(reported, already billed): a higher reported
// total tops up the counter balance-neutrally (billing already happened
// minute by minute), a lower one is ignored. The end timestamp is always
// set. Best-effort: an unknown token reports attemptFound=false rather
// than failing.
func (e *Engine) EndSession(ctx context.Context, req domain.SessionEndRequest) (domain.SessionEndResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SessionEndResult{}, err
	}

	res, err := e.store.AttemptByToken(ctx, req.CorrelationToken)
	if errors.Is(err, domain.ErrTokenNotFound) {
		observability.SessionEnds.WithLabelValues("false").Inc()
		e.log.Warn("session end for unknown token",
			"conversation_id", req.ConversationID)
		return domain.SessionEndResult{Success: false, AttemptFound: false}, nil
	}
	if err != nil {
		return domain.SessionEndResult{}, err
	}
	attempt, student := res.Attempt, res.Student

	total := attempt.MinutesBilled
	if req.TotalMinutes > total {
		total, err = e.store.AdvanceMinutes(ctx, attempt.ID, req.TotalMinutes, e.cfg.SecondsPerMinute)
		if err != nil {
			return domain.SessionEndResult{}, err
		}
		e.log.Info("session minutes reconciled",
			"attempt_id", attempt.ID,
			"billed", attempt.MinutesBilled,
			"reported", req.TotalMinutes)
	}

	if err := e.store.MarkEnded(ctx, attempt.ID, domain.ParseTimestamp(req.Timestamp)); err != nil {
		return domain.SessionEndResult{}, err
	}

	observability.SessionEnds.WithLabelValues("true").Inc()
	balance := student.CreditBalance
	return domain.SessionEndResult{
		Success:            true,
		TotalMinutesBilled: total,
		AttemptFound:       true,
		FinalBalance:       &balance,
	}, nil
}
