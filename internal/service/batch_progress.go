package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
)

// commissionCategoryStatus derives the commissions bucket status from row
// counts. manual is the number of completed rows closed by manual entry.
func commissionCategoryStatus(counts map[string]int64, manual int64, started bool) string {
	var total int64
	for _, n := range counts {
		total += n
	}
	completed := counts[domain.PayoutStatusCompleted]
	open := counts[domain.PayoutStatusPending] + counts[domain.PayoutStatusInProgress]

	switch {
	case total == 0:
		if started {
			return domain.CategoryStatusCompleted
		}
		return domain.CategoryStatusPending
	case completed == total:
		if manual > 0 {
			return domain.CategoryStatusManual
		}
		return domain.CategoryStatusCompleted
	case open > 0:
		if !started && open == counts[domain.PayoutStatusPending] && open == total {
			return domain.CategoryStatusPending
		}
		return domain.CategoryStatusInProgress
	case completed == 0:
		return domain.CategoryStatusFailed
	default:
		return domain.CategoryStatusPartiallyFailed
	}
}

// closedCommissionStatus is the commissions status of a force-closed batch.
// Rows still pending or in flight can no longer be dispatched, so they count
// as unresolved rather than in progress.
func closedCommissionStatus(counts map[string]int64, manual int64) string {
	status := commissionCategoryStatus(counts, manual, true)
	if domain.CategoryDone(status) {
		return status
	}
	if counts[domain.PayoutStatusCompleted] == 0 {
		return domain.CategoryStatusFailed
	}
	return domain.CategoryStatusPartiallyFailed
}

func countManual(ctx context.Context, qtx repository.Querier, batchID uuid.UUID) (int64, error) {
	rows, err := qtx.ListPayouts(ctx, batchID, domain.PayoutStatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("list completed payouts: %w", err)
	}
	var n int64
	for _, r := range rows {
		if r.Provider == domain.ProviderManual {
			n++
		}
	}
	return n, nil
}

func allCategoriesDone(s models.PayoutStatusSnapshot) bool {
	return domain.CategoryDone(s.Insurance) && domain.CategoryDone(s.Administrative) && domain.CategoryDone(s.Commissions)
}

// refreshBatchProgress recomputes the commissions status of a batch from its
// rows, keeping the force-close downgrade once the batch is closed, and
// advances the batch lifecycle: reconciliation moves to processed once
// every row is completed, processed moves to completed once every category is done.
func refreshBatchProgress(ctx context.Context, qtx repository.Querier, audit *AuditService, batchID uuid.UUID, actorID *uuid.UUID) (models.SettlementBatch, error) {
	batch, err := qtx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return batch, mapBatchErr(err)
	}
	counts, err := qtx.CountPayoutsByStatus(ctx, batchID)
	if err != nil {
		return batch, fmt.Errorf("count payouts: %w", err)
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	completed := counts[domain.PayoutStatusCompleted]

	var manual int64
	if total > 0 && completed == total {
		if manual, err = countManual(ctx, qtx, batchID); err != nil {
			return batch, err
		}
	}

	prevStatus := batch.Status
	prevCommissions := batch.PayoutStatus.Commissions
	switch batch.Status {
	case domain.BatchStatusProcessed, domain.BatchStatusCompleted:
		batch.PayoutStatus.Commissions = closedCommissionStatus(counts, manual)
	default:
		batch.PayoutStatus.Commissions = commissionCategoryStatus(counts, manual, batch.Status != domain.BatchStatusOpen)
	}

	if batch.Status == domain.BatchStatusReconciliation && completed == total {
		batch.Status = domain.BatchStatusProcessed
		now := time.Now().UTC()
		batch.ProcessedAt = &now
	}
	if batch.Status == domain.BatchStatusProcessed && allCategoriesDone(batch.PayoutStatus) {
		batch.Status = domain.BatchStatusCompleted
	}

	if batch.Status == prevStatus && batch.PayoutStatus.Commissions == prevCommissions {
		return batch, nil
	}
	if err := saveBatchState(ctx, qtx, batch); err != nil {
		return batch, err
	}
	if batch.Status != prevStatus {
		if err := audit.Write(ctx, qtx, entitySettlement, batch.ID, actorID, "status_advanced", prevStatus, batch.Status, map[string]any{
			"payout_status": batch.PayoutStatus,
		}); err != nil {
			return batch, err
		}
	}
	return batch, nil
}

func saveBatchState(ctx context.Context, qtx repository.Querier, batch models.SettlementBatch) error {
	rows, err := qtx.UpdateBatchState(ctx, repository.UpdateBatchStateParams{
		ID:           batch.ID,
		Status:       batch.Status,
		PayoutStatus: batch.PayoutStatus,
		CategoryRefs: batch.CategoryRefs,
		Notes:        batch.Notes,
		ProcessedBy:  batch.ProcessedBy,
		ProcessedAt:  batch.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("update settlement batch: %w", err)
	}
	return requireExactlyOne(rows, "update settlement batch")
}
