package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/lease"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SettlementService builds daily settlement batches and manages their lifecycle.
type SettlementService struct {
	store    QueryStore
	ledger   *PayoutLedger
	audit    *AuditService
	bank     gateway.Provider
	locker   lease.Locker
	accounts CategoryAccounts
	timeout  time.Duration
	now      func() time.Time
}

// CategoryAccounts are the destination accounts of the two batch-level allocations.
type CategoryAccounts struct {
	Insurance      string
	Administrative string
}

func NewSettlementService(store QueryStore, ledger *PayoutLedger, bank gateway.Provider, locker lease.Locker, accounts CategoryAccounts, timeout time.Duration) *SettlementService {
	return &SettlementService{
		store:    store,
		ledger:   ledger,
		audit:    ledger.audit,
		bank:     bank,
		locker:   locker,
		accounts: accounts,
		timeout:  timeout,
		now:      time.Now,
	}
}

// commissionAccrual sums one beneficiary's commissions for the day. The ledger
// holds a single row per beneficiary per batch, so a beneficiary who earned
// under both roles gets one merged row typed by their registered type.
type commissionAccrual struct {
	roles  map[string]struct{}
	amount domain.Money
}

// Generate builds the batch for the UTC calendar day containing date.
// When no payments are eligible the empty batch is still created and returned
// together with domain.ErrNoPayments.
func (s *SettlementService) Generate(ctx context.Context, date time.Time, actorID *uuid.UUID) (*models.SettlementBatch, error) {
	start, end := repository.DayBounds(date)
	if start.After(s.now().UTC()) {
		verr := &domain.ValidationError{}
		verr.Add("date", "Settlement date cannot be in the future")
		return nil, verr
	}

	var batch models.SettlementBatch
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.GetBatchByDate(ctx, start); err == nil {
			return domain.ErrDuplicateBatch
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check existing batch: %w", err)
		}

		payments, err := qtx.ListUnbatchedPayments(ctx, start, end)
		if err != nil {
			return err
		}

		var (
			totalPayments, insurance, admin, agentTotal, superTotal int64
			accruals                                                = make(map[uuid.UUID]*commissionAccrual)
			order                                                   []uuid.UUID
			paymentIDs                                              = make([]uuid.UUID, 0, len(payments))
		)
		accrue := func(id uuid.UUID, kind string, m domain.Money) {
			if m.IsZero() {
				return
			}
			a, ok := accruals[id]
			if !ok {
				a = &commissionAccrual{roles: make(map[string]struct{}, 1)}
				accruals[id] = a
				order = append(order, id)
			}
			a.roles[kind] = struct{}{}
			a.amount = domain.NewMoney(a.amount.Cents + m.Cents)
		}

		for _, p := range payments {
			amount := domain.NewMoney(domain.FromDecimal(p.Amount))
			split := domain.SplitPayment(amount,
				domain.Portion{Kind: p.AgentCommission.Kind, Value: p.AgentCommission.Value},
				domain.Portion{Kind: p.SuperAgentCommission.Kind, Value: p.SuperAgentCommission.Value},
				domain.Portion{Kind: p.AdminFee.Kind, Value: p.AdminFee.Value},
				p.AgentID != nil, p.SuperAgentID != nil,
			)
			totalPayments += amount.Cents
			insurance += split.Insurance.Cents
			admin += split.Administrative.Cents
			agentTotal += split.AgentCommission.Cents
			superTotal += split.SuperAgentCommission.Cents
			if p.AgentID != nil {
				accrue(*p.AgentID, domain.BeneficiaryAgent, split.AgentCommission)
			}
			if p.SuperAgentID != nil {
				accrue(*p.SuperAgentID, domain.BeneficiarySuperAgent, split.SuperAgentCommission)
			}
			paymentIDs = append(paymentIDs, p.ID)
		}

		now := s.now().UTC()
		batch = models.SettlementBatch{
			ID:             uuid.New(),
			SettlementDate: start,
			Status:         domain.BatchStatusOpen,
			Totals: models.BatchTotals{
				TotalPayments:              domain.NewMoney(totalPayments).ToDecimal(),
				TotalInsurance:             domain.NewMoney(insurance).ToDecimal(),
				TotalAdmin:                 domain.NewMoney(admin).ToDecimal(),
				TotalAgentCommissions:      domain.NewMoney(agentTotal).ToDecimal(),
				TotalSuperAgentCommissions: domain.NewMoney(superTotal).ToDecimal(),
				PaymentCount:               len(payments),
			},
			PayoutStatus: models.PayoutStatusSnapshot{
				Insurance:      domain.CategoryStatusPending,
				Administrative: domain.CategoryStatusPending,
				Commissions:    domain.CategoryStatusPending,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := qtx.InsertBatch(ctx, batch); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return domain.ErrDuplicateBatch
			}
			return fmt.Errorf("insert settlement batch: %w", err)
		}

		assigned, err := qtx.AssignPaymentsToBatch(ctx, batch.ID, paymentIDs)
		if err != nil {
			return fmt.Errorf("assign payments to batch: %w", err)
		}
		if assigned != int64(len(paymentIDs)) {
			return fmt.Errorf("assign payments to batch affected %d of %d rows", assigned, len(paymentIDs))
		}

		rows := make([]NewPayoutRow, 0, len(order))
		for _, id := range order {
			ben, err := qtx.GetBeneficiary(ctx, id)
			if err != nil {
				return fmt.Errorf("load beneficiary %s: %w", id, err)
			}
			provider := ben.Provider
			if provider == "" {
				provider = domain.ProviderMpesa
			}
			a := accruals[id]
			if len(a.roles) > 1 {
				zap.L().Info("commissions merged across roles",
					zap.String("beneficiary_id", id.String()),
					zap.String("beneficiary_type", ben.Type),
				)
			}
			rows = append(rows, NewPayoutRow{
				BeneficiaryID:   id,
				BeneficiaryType: ben.Type,
				Provider:        provider,
				Amount:          a.amount.ToDecimal(),
			})
		}
		if _, err := s.ledger.CreateRows(ctx, qtx, batch.ID, rows); err != nil {
			return err
		}

		return s.audit.Write(ctx, qtx, entitySettlement, batch.ID, actorID, "generated", "", domain.BatchStatusOpen, map[string]any{
			"settlement_date": start.Format("2006-01-02"),
			"payment_count":   len(payments),
			"payout_rows":     len(rows),
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("settlement batch generated",
		zap.String("settlement_id", batch.ID.String()),
		zap.String("settlement_date", start.Format("2006-01-02")),
		zap.Int("payment_count", batch.Totals.PaymentCount),
	)
	if batch.Totals.PaymentCount == 0 {
		return &batch, domain.ErrNoPayments
	}
	return &batch, nil
}

// List returns batches newest first, optionally filtered by status.
func (s *SettlementService) List(ctx context.Context, status string, limit, offset int) ([]models.SettlementBatch, error) {
	status, err := normalizeStatusFilter(status, domain.IsBatchStatus)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	batches, err := s.store.Queries().ListBatches(ctx, repository.ListBatchesParams{
		Status: status,
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, err
	}
	if batches == nil {
		batches = []models.SettlementBatch{}
	}
	return batches, nil
}

func (s *SettlementService) Get(ctx context.Context, id uuid.UUID) (*models.SettlementBatch, error) {
	batch, err := s.store.Queries().GetBatch(ctx, id)
	if err != nil {
		return nil, mapBatchErr(err)
	}
	return &batch, nil
}

// Process force-closes a batch. Unresolved rows stay as they are; categories
// that did not finish are downgraded to partially_failed, or failed when
// nothing in them completed.
func (s *SettlementService) Process(ctx context.Context, id uuid.UUID, notes string, actorID *uuid.UUID) (*models.SettlementBatch, error) {
	var batch models.SettlementBatch
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		batch, err = qtx.GetBatchForUpdate(ctx, id)
		if err != nil {
			return mapBatchErr(err)
		}
		if batch.Status == domain.BatchStatusProcessed || batch.Status == domain.BatchStatusCompleted {
			return &domain.InvalidStateError{Entity: entitySettlement, Operation: "process", Status: batch.Status}
		}

		counts, err := qtx.CountPayoutsByStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("count payouts: %w", err)
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		var manual int64
		if completed := counts[domain.PayoutStatusCompleted]; total > 0 && completed == total {
			if manual, err = countManual(ctx, qtx, id); err != nil {
				return err
			}
		}

		batch.PayoutStatus.Commissions = closedCommissionStatus(counts, manual)
		for _, category := range []string{domain.CategoryInsurance, domain.CategoryAdministrative} {
			if !domain.CategoryDone(batch.PayoutStatus.Get(category)) {
				batch.PayoutStatus.Set(category, domain.CategoryStatusFailed)
			}
		}

		prev := batch.Status
		now := s.now().UTC()
		batch.Status = domain.BatchStatusProcessed
		if allCategoriesDone(batch.PayoutStatus) {
			batch.Status = domain.BatchStatusCompleted
		}
		batch.Notes = notes
		batch.ProcessedBy = actorID
		batch.ProcessedAt = &now
		if err := saveBatchState(ctx, qtx, batch); err != nil {
			return err
		}

		return s.audit.Write(ctx, qtx, entitySettlement, id, actorID, "processed", prev, batch.Status, map[string]any{
			"notes":         notes,
			"payout_status": batch.PayoutStatus,
			"unresolved":    total - counts[domain.PayoutStatusCompleted],
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("settlement batch processed",
		zap.String("settlement_id", id.String()),
		zap.String("status", batch.Status),
	)
	return &batch, nil
}

// PayoutCategory transfers one of the batch-level allocations (insurance or
// administrative) through the bank rail. With no rail configured it refuses,
// leaving the category untouched.
func (s *SettlementService) PayoutCategory(ctx context.Context, id uuid.UUID, category string, actorID *uuid.UUID) (*models.SettlementBatch, error) {
	var account string
	switch category {
	case domain.CategoryInsurance:
		account = s.accounts.Insurance
	case domain.CategoryAdministrative:
		account = s.accounts.Administrative
	default:
		verr := &domain.ValidationError{}
		verr.Add("category", fmt.Sprintf("Unknown payout category %q", category))
		return nil, verr
	}

	if s.bank == nil {
		batch, err := s.store.Queries().GetBatch(ctx, id)
		if err != nil {
			return nil, mapBatchErr(err)
		}
		return nil, &domain.InvalidStateError{Entity: entitySettlement, Operation: "transfer " + category + " without a bank rail for", Status: batch.Status}
	}

	release, err := s.locker.Acquire(ctx, "category:"+id.String()+":"+category, s.timeout+leaseGrace)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, domain.ErrDispatchInProgress
		}
		return nil, err
	}
	defer release()

	var (
		batch  models.SettlementBatch
		amount domain.Money
	)
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		batch, err = qtx.GetBatchForUpdate(ctx, id)
		if err != nil {
			return mapBatchErr(err)
		}
		current := batch.PayoutStatus.Get(category)
		if domain.CategoryDone(current) {
			return domain.ErrAlreadyCompleted
		}

		if category == domain.CategoryInsurance {
			amount = domain.NewMoney(domain.FromDecimal(batch.Totals.TotalInsurance))
		} else {
			amount = domain.NewMoney(domain.FromDecimal(batch.Totals.TotalAdmin))
		}

		batch.PayoutStatus.Set(category, domain.CategoryStatusInProgress)
		if err := saveBatchState(ctx, qtx, batch); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, entitySettlement, id, actorID, category+"_payout_started", current, domain.CategoryStatusInProgress, map[string]any{
			"amount": amount.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return s.finishCategory(ctx, id, category, domain.CategoryStatusCompleted, "", nil, actorID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	started := time.Now()
	ack, sendErr := s.bank.SendPayout(callCtx, gateway.PayoutRequest{
		PayoutID:  id,
		Reference: id.String() + "-" + category,
		Account:   account,
		Amount:    amount.ToDecimal(),
		Remarks:   fmt.Sprintf("%s settlement %s", category, batch.SettlementDate.Format("2006-01-02")),
	})
	observability.ObserveProviderRequest(s.bank.Name(), time.Since(started))

	if sendErr != nil {
		details := map[string]any{"error": "provider_error", "message": sendErr.Error()}
		var rejected *gateway.RejectedError
		switch {
		case errors.As(sendErr, &rejected):
			details = rejected.Details()
		case errors.Is(sendErr, domain.ErrProviderTimeout), errors.Is(callCtx.Err(), context.DeadlineExceeded):
			details = map[string]any{"error": "timeout"}
		}
		observability.IncrementDispatch(s.bank.Name(), "failed")
		zap.L().Warn("category payout failed",
			zap.String("settlement_id", id.String()),
			zap.String("category", category),
			zap.Error(sendErr),
		)
		return s.finishCategory(context.WithoutCancel(ctx), id, category, domain.CategoryStatusFailed, "", details, actorID)
	}

	observability.IncrementDispatch(s.bank.Name(), "completed")
	return s.finishCategory(context.WithoutCancel(ctx), id, category, domain.CategoryStatusCompleted, ack.ProviderTxnID, nil, actorID)
}

func (s *SettlementService) finishCategory(ctx context.Context, id uuid.UUID, category, status, ref string, details map[string]any, actorID *uuid.UUID) (*models.SettlementBatch, error) {
	var batch models.SettlementBatch
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		batch, err = qtx.GetBatchForUpdate(ctx, id)
		if err != nil {
			return mapBatchErr(err)
		}
		prev := batch.PayoutStatus.Get(category)
		batch.PayoutStatus.Set(category, status)
		if ref != "" {
			if batch.CategoryRefs == nil {
				batch.CategoryRefs = make(map[string]string)
			}
			batch.CategoryRefs[category] = ref
		}
		if batch.Status == domain.BatchStatusProcessed && allCategoriesDone(batch.PayoutStatus) {
			batch.Status = domain.BatchStatusCompleted
		}
		if err := saveBatchState(ctx, qtx, batch); err != nil {
			return err
		}
		metadata := map[string]any{"reference": ref}
		for k, v := range details {
			metadata[k] = v
		}
		return s.audit.Write(ctx, qtx, entitySettlement, id, actorID, category+"_payout_finished", prev, status, metadata)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
