package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"go.uber.org/zap"
)

// ManualEntry is the operator's evidence of a payout made outside the system.
type ManualEntry struct {
	TransactionRef  string `json:"transaction_ref"`
	TransactionDate string `json:"transaction_date"`
	Phone           string `json:"phone"`
	Notes           string `json:"notes"`
}

// ManualReconciliationService closes failed or unresolved payout rows with
// operator-supplied transaction details.
type ManualReconciliationService struct {
	store  QueryStore
	ledger *PayoutLedger
	audit  *AuditService
	now    func() time.Time
}

func NewManualReconciliationService(store QueryStore, ledger *PayoutLedger) *ManualReconciliationService {
	return &ManualReconciliationService{store: store, ledger: ledger, audit: ledger.audit, now: time.Now}
}

func (s *ManualReconciliationService) validate(entry *ManualEntry) error {
	entry.TransactionRef = strings.TrimSpace(entry.TransactionRef)
	entry.TransactionDate = strings.TrimSpace(entry.TransactionDate)
	entry.Phone = strings.TrimSpace(entry.Phone)
	entry.Notes = strings.TrimSpace(entry.Notes)

	verr := &domain.ValidationError{}
	if entry.TransactionRef == "" {
		verr.Add("transaction_ref", "Transaction reference is required")
	}

	if entry.TransactionDate == "" {
		verr.Add("transaction_date", "Transaction date is required")
	} else if d, dateOnly, ok := parseTransactionDate(entry.TransactionDate); !ok {
		verr.Add("transaction_date", "Transaction date must be YYYY-MM-DD or RFC 3339")
	} else if s.inFuture(d, dateOnly) {
		verr.Add("transaction_date", "Transaction date cannot be in the future")
	}

	if entry.Phone == "" {
		verr.Add("phone", "Phone number is required")
	} else if _, err := gateway.NormalizeMSISDN(entry.Phone); err != nil {
		verr.Add("phone", "Phone number is not a valid mobile number")
	}
	return verr.OrNil()
}

// maxZoneOffset is the furthest any civil time zone runs ahead of UTC.
const maxZoneOffset = 14 * time.Hour

func parseTransactionDate(s string) (t time.Time, dateOnly, ok bool) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, true, true
	}
	if d, err := time.Parse(time.RFC3339, s); err == nil {
		return d.UTC(), false, true
	}
	return time.Time{}, false, false
}

// inFuture compares instants exactly. A bare calendar date carries no zone, so
// it is only in the future once no time zone has reached it yet.
func (s *ManualReconciliationService) inFuture(d time.Time, dateOnly bool) bool {
	now := s.now().UTC()
	if !dateOnly {
		return d.After(now)
	}
	y, m, day := now.Add(maxZoneOffset).Date()
	return d.After(time.Date(y, m, day, 0, 0, 0, 0, time.UTC))
}

// RecordManual marks a failed or reconciliation row as completed by manual
// transfer. The attempt counter is left unchanged.
func (s *ManualReconciliationService) RecordManual(ctx context.Context, batchID, payoutID uuid.UUID, entry ManualEntry, actorID *uuid.UUID) (*models.PayoutTransaction, error) {
	if err := s.validate(&entry); err != nil {
		return nil, err
	}

	var p models.PayoutTransaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		if p, err = s.ledger.Load(ctx, qtx, batchID, payoutID); err != nil {
			return err
		}
		switch p.Status {
		case domain.PayoutStatusCompleted:
			return domain.ErrAlreadyCompleted
		case domain.PayoutStatusFailed, domain.PayoutStatusReconciliation:
		default:
			return &domain.InvalidStateError{Entity: entityPayout, Operation: "record manual payment for", Status: p.Status}
		}

		prevProvider := p.Provider
		p.Provider = domain.ProviderManual
		p.ManualTransactionRef = &entry.TransactionRef
		p.ManualTransactionDetails = &models.ManualDetails{
			TransactionDate: entry.TransactionDate,
			Phone:           entry.Phone,
			Notes:           entry.Notes,
			RecordedBy:      actorID,
			RecordedAt:      s.now().UTC(),
		}
		if err := transitionPayout(ctx, qtx, s.audit, &p, domain.PayoutStatusCompleted, actorID, "manual_entry", map[string]any{
			"transaction_ref":   entry.TransactionRef,
			"previous_provider": prevProvider,
		}); err != nil {
			return err
		}
		_, err = refreshBatchProgress(ctx, qtx, s.audit, batchID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementManualEntry(domain.CategoryCommissions)
	zap.L().Info("manual payout recorded",
		zap.String("payout_id", p.ID.String()),
		zap.String("transaction_ref", entry.TransactionRef),
	)
	return &p, nil
}
