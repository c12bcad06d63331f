package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
)

// PayoutCounts tallies a batch's payout rows by status.
type PayoutCounts struct {
	Total          int64 `json:"total"`
	Pending        int64 `json:"pending"`
	InProgress     int64 `json:"in_progress"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	Reconciliation int64 `json:"reconciliation"`
}

// BatchStatus is the progress summary shown to operators.
type BatchStatus struct {
	SettlementID         uuid.UUID                   `json:"settlement_id"`
	Status               string                      `json:"status"`
	PayoutStatus         models.PayoutStatusSnapshot `json:"payout_status"`
	Counts               PayoutCounts                `json:"counts"`
	CompletionPercentage int                         `json:"completion_percentage"`
}

// StatusService reports batch progress from the payout ledger.
type StatusService struct {
	store  QueryStore
	ledger *PayoutLedger
}

func NewStatusService(store QueryStore, ledger *PayoutLedger) *StatusService {
	return &StatusService{store: store, ledger: ledger}
}

func (s *StatusService) GetStatus(ctx context.Context, batchID uuid.UUID) (*BatchStatus, error) {
	q := s.store.Queries()
	batch, err := q.GetBatch(ctx, batchID)
	if err != nil {
		return nil, mapBatchErr(err)
	}
	raw, err := q.CountPayoutsByStatus(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("count payouts: %w", err)
	}

	counts := PayoutCounts{
		Pending:        raw[domain.PayoutStatusPending],
		InProgress:     raw[domain.PayoutStatusInProgress],
		Completed:      raw[domain.PayoutStatusCompleted],
		Failed:         raw[domain.PayoutStatusFailed],
		Reconciliation: raw[domain.PayoutStatusReconciliation],
	}
	for _, n := range raw {
		counts.Total += n
	}

	return &BatchStatus{
		SettlementID:         batch.ID,
		Status:               batch.Status,
		PayoutStatus:         batch.PayoutStatus,
		Counts:               counts,
		CompletionPercentage: CompletionPercentage(counts.Completed, counts.Total),
	}, nil
}

// GetDetails lists the batch's payout rows, optionally filtered by status.
func (s *StatusService) GetDetails(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutDetail, error) {
	if _, err := s.store.Queries().GetBatch(ctx, batchID); err != nil {
		return nil, mapBatchErr(err)
	}
	return s.ledger.Get(ctx, batchID, status)
}

// CompletionPercentage rounds completed/total to a whole percent. It only
// reports 100 when every row is completed.
func CompletionPercentage(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int((completed*100 + total/2) / total)
	if completed < total && pct > 99 {
		pct = 99
	}
	return pct
}
