package service

import (
	"context"
	"fmt"

	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"go.uber.org/zap"
)

const integrityPageSize = 100

// IntegrityReport summarizes one integrity pass.
type IntegrityReport struct {
	BatchesChecked int
	Mismatches     int
	AttentionRows  int64
}

// IntegrityService checks that each batch's payout rows add up to the
// commission totals fixed at generation time.
type IntegrityService struct {
	store QueryStore
}

func NewIntegrityService(store QueryStore) *IntegrityService {
	return &IntegrityService{store: store}
}

func (s *IntegrityService) Run(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport
	q := s.store.Queries()

	for offset := int32(0); ; offset += integrityPageSize {
		batches, err := q.ListBatches(ctx, repository.ListBatchesParams{Limit: integrityPageSize, Offset: offset})
		if err != nil {
			return report, fmt.Errorf("list batches: %w", err)
		}
		for _, b := range batches {
			report.BatchesChecked++

			sum, err := q.SumPayoutAmounts(ctx, b.ID)
			if err != nil {
				return report, fmt.Errorf("sum payouts for %s: %w", b.ID, err)
			}
			expected := domain.FromDecimal(b.Totals.TotalAgentCommissions) + domain.FromDecimal(b.Totals.TotalSuperAgentCommissions)
			if sum != expected {
				report.Mismatches++
				observability.IncrementIntegrityViolation("commission_sum")
				zap.L().Error("CRITICAL: payout rows do not match commission totals",
					zap.String("settlement_id", b.ID.String()),
					zap.Int64("expected_cents", expected),
					zap.Int64("actual_cents", sum),
				)
			}

			counts, err := q.CountPayoutsByStatus(ctx, b.ID)
			if err != nil {
				return report, fmt.Errorf("count payouts for %s: %w", b.ID, err)
			}
			report.AttentionRows += counts[domain.PayoutStatusFailed] + counts[domain.PayoutStatusReconciliation]
		}
		if len(batches) < integrityPageSize {
			break
		}
	}

	observability.SetAttentionQueueSize(report.AttentionRows)
	if report.Mismatches == 0 {
		zap.L().Info("settlement integrity check passed", zap.Int("batches", report.BatchesChecked))
	}
	return report, nil
}
