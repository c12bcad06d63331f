package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/shopspring/decimal"
)

// PayoutLedger is the single source of truth for payout rows. Every status
// change goes through it so the transition rules and the attempt cap hold.
type PayoutLedger struct {
	store QueryStore
	audit *AuditService
	now   func() time.Time
}

func NewPayoutLedger(store QueryStore, audit *AuditService) *PayoutLedger {
	return &PayoutLedger{store: store, audit: audit, now: time.Now}
}

// NewPayoutRow describes one beneficiary's commission within a new batch.
type NewPayoutRow struct {
	BeneficiaryID   uuid.UUID
	BeneficiaryType string
	Provider        string
	Amount          decimal.Decimal
}

// CreateRows inserts pending payout rows for a batch.
func (l *PayoutLedger) CreateRows(ctx context.Context, qtx repository.Querier, batchID uuid.UUID, rows []NewPayoutRow) ([]models.PayoutTransaction, error) {
	created := make([]models.PayoutTransaction, 0, len(rows))
	now := l.now().UTC()
	for _, r := range rows {
		if !r.Amount.IsPositive() {
			return nil, fmt.Errorf("payout amount for beneficiary %s must be positive", r.BeneficiaryID)
		}
		p := models.PayoutTransaction{
			ID:              uuid.New(),
			BatchID:         batchID,
			BeneficiaryID:   r.BeneficiaryID,
			BeneficiaryType: r.BeneficiaryType,
			Amount:          r.Amount,
			Status:          domain.PayoutStatusPending,
			Provider:        r.Provider,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := qtx.InsertPayout(ctx, p); err != nil {
			return nil, fmt.Errorf("insert payout for beneficiary %s: %w", r.BeneficiaryID, err)
		}
		if err := l.audit.Write(ctx, qtx, entityPayout, p.ID, nil, "created", "", domain.PayoutStatusPending, map[string]any{
			"batch_id": batchID.String(),
			"amount":   p.Amount.StringFixed(2),
		}); err != nil {
			return nil, err
		}
		created = append(created, p)
	}
	return created, nil
}

// Get returns the batch's payout rows joined with beneficiary display fields,
// optionally filtered by status.
func (l *PayoutLedger) Get(ctx context.Context, batchID uuid.UUID, status string) ([]models.PayoutDetail, error) {
	status, err := normalizeStatusFilter(status, domain.IsPayoutStatus)
	if err != nil {
		return nil, err
	}
	rows, err := l.store.Queries().ListPayoutDetails(ctx, batchID, status)
	if err != nil {
		return nil, fmt.Errorf("list payout details: %w", err)
	}
	if rows == nil {
		rows = []models.PayoutDetail{}
	}
	return rows, nil
}

// Load locks a payout row and checks it belongs to batchID.
func (l *PayoutLedger) Load(ctx context.Context, qtx repository.Querier, batchID, payoutID uuid.UUID) (models.PayoutTransaction, error) {
	p, err := qtx.GetPayoutForUpdate(ctx, payoutID)
	if err != nil {
		return p, mapPayoutErr(err)
	}
	if batchID != uuid.Nil && p.BatchID != batchID {
		return p, domain.ErrPayoutNotFound
	}
	return p, nil
}

// UpdateStatus moves a row to status. details replaces error_details when non-nil.
func (l *PayoutLedger) UpdateStatus(ctx context.Context, qtx repository.Querier, p *models.PayoutTransaction, status string, details map[string]any, actorID *uuid.UUID, action string) error {
	if details != nil {
		p.ErrorDetails = details
	}
	return transitionPayout(ctx, qtx, l.audit, p, status, actorID, action, details)
}

// IncrementAttempt starts a dispatch attempt: the row must be pending and
// below the attempt cap. It moves to in_progress with attempts+1 and a fresh
// reference that the provider echoes back in its callback. Every reference is
// kept in payout_attempts so results for earlier attempts still find the row.
func (l *PayoutLedger) IncrementAttempt(ctx context.Context, qtx repository.Querier, payoutID uuid.UUID) (models.PayoutTransaction, error) {
	p, err := l.Load(ctx, qtx, uuid.Nil, payoutID)
	if err != nil {
		return p, err
	}
	if p.Status == domain.PayoutStatusCompleted {
		return p, domain.ErrAlreadyCompleted
	}
	if p.Status != domain.PayoutStatusPending {
		return p, &domain.InvalidStateError{Entity: entityPayout, Operation: "dispatch", Status: p.Status}
	}
	if p.Attempts >= domain.MaxPayoutAttempts {
		return p, domain.ErrMaxAttemptsExceeded
	}

	now := l.now().UTC()
	p.Attempts++
	p.LastAttemptAt = &now
	p.ProviderTxnID = nil
	p.ConversationID = strPtr(attemptReference(p.ID, p.Attempts))
	if err := qtx.InsertPayoutAttempt(ctx, models.PayoutAttempt{
		Reference: *p.ConversationID,
		PayoutID:  p.ID,
		Attempt:   p.Attempts,
		CreatedAt: now,
	}); err != nil {
		return p, fmt.Errorf("record payout attempt: %w", err)
	}
	if err := transitionPayout(ctx, qtx, l.audit, &p, domain.PayoutStatusInProgress, nil, "dispatch_started", map[string]any{
		"attempt": p.Attempts,
	}); err != nil {
		return p, err
	}
	return p, nil
}

// History returns the audit trail of one payout row.
func (l *PayoutLedger) History(ctx context.Context, batchID, payoutID uuid.UUID) ([]models.AuditEntry, error) {
	p, err := l.store.Queries().GetPayout(ctx, payoutID)
	if err != nil {
		return nil, mapPayoutErr(err)
	}
	if p.BatchID != batchID {
		return nil, domain.ErrPayoutNotFound
	}
	return l.audit.History(ctx, entityPayout, payoutID)
}

func attemptReference(payoutID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s-%d", payoutID, attempt)
}
