package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
)

var payoutTransitions = map[string]map[string]struct{}{
	domain.PayoutStatusPending: {
		domain.PayoutStatusInProgress: {},
		domain.PayoutStatusFailed:     {},
		// A success for an earlier attempt lands while the retry is queued.
		domain.PayoutStatusCompleted:  {},
	},
	domain.PayoutStatusInProgress: {
		domain.PayoutStatusCompleted:      {},
		domain.PayoutStatusFailed:         {},
		domain.PayoutStatusReconciliation: {},
		domain.PayoutStatusPending:        {},
	},
	domain.PayoutStatusFailed: {
		domain.PayoutStatusPending:   {},
		domain.PayoutStatusCompleted:  {},
	},
	domain.PayoutStatusReconciliation: {
		domain.PayoutStatusCompleted:  {},
		domain.PayoutStatusFailed:    {},
	},
	domain.PayoutStatusCompleted: {},
}

func canTransition(current, next string) bool {
	nextStates, ok := payoutTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionPayout persists p with its status moved to next and records the
// audit entry. Other field changes made by the caller are written in the same update.
func transitionPayout(ctx context.Context, qtx repository.Querier, audit *AuditService, p *models.PayoutTransaction, next string, actorID *uuid.UUID, action string, metadata map[string]any) error {
	prev := p.Status
	if prev == domain.PayoutStatusCompleted {
		return domain.ErrAlreadyCompleted
	}
	if !canTransition(prev, next) {
		return &domain.InvalidStateError{Entity: entityPayout, Operation: action, Status: prev}
	}

	p.Status = next
	rows, err := qtx.UpdatePayout(ctx, *p)
	if err != nil {
		p.Status = prev
		return fmt.Errorf("update payout state: %w", err)
	}
	if err := requireExactlyOne(rows, "update payout state"); err != nil {
		return err
	}

	if err := audit.Write(ctx, qtx, entityPayout, p.ID, actorID, action, prev, next, metadata); err != nil {
		return err
	}
	observability.IncrementPayoutTransition(prev, next)
	return nil
}
