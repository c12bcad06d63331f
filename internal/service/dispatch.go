package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

// leaseGrace is added to the provider timeout when sizing dispatch leases and
// when deciding that an in_progress row was abandoned.
const leaseGrace = 30 * time.Second

// DispatchQueue accepts payout rows for asynchronous dispatch.
type DispatchQueue interface {
	Submit(ctx context.Context, payoutID uuid.UUID) error
}

// DispatchService sends commission payouts to their providers and applies the
// results to the ledger.
type DispatchService struct {
	store     QueryStore
	ledger    *PayoutLedger
	audit     *AuditService
	providers gateway.Registry
	locker    lease.Locker
	timeout   time.Duration
	queue     DispatchQueue
	now       func() time.Time

	mu      sync.Mutex
	waiters map[uuid.UUID]chan struct{}
}

func NewDispatchService(store QueryStore, ledger *PayoutLedger, providers gateway.Registry, locker lease.Locker, timeout time.Duration) *DispatchService {
	return &DispatchService{
		store:     store,
		ledger:    ledger,
		audit:     ledger.audit,
		providers: providers,
		locker:    locker,
		timeout:   timeout,
		now:       time.Now,
		waiters:   make(map[uuid.UUID]chan struct{}),
	}
}

// SetQueue wires the queue used by InitiateCommissionPayouts and Retry.
// With no queue, rows are left pending for the caller to dispatch.
func (s *DispatchService) SetQueue(q DispatchQueue) {
	s.queue = q
}

// InitiateCommissionPayouts moves the batch into reconciliation and queues
// every pending commission row for dispatch.
func (s *DispatchService) InitiateCommissionPayouts(ctx context.Context, batchID uuid.UUID, actorID *uuid.UUID) (*models.SettlementBatch, error) {
	var (
		batch   models.SettlementBatch
		pending []models.PayoutTransaction
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		batch, err = qtx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return mapBatchErr(err)
		}
		switch batch.Status {
		case domain.BatchStatusOpen, domain.BatchStatusReconciliation:
		default:
			return &domain.InvalidStateError{Entity: entitySettlement, Operation: "initiate payouts for", Status: batch.Status}
		}

		prev := batch.Status
		if prev == domain.BatchStatusOpen {
			batch.Status = domain.BatchStatusReconciliation
			batch.PayoutStatus.Commissions = domain.CategoryStatusInProgress
			if err := saveBatchState(ctx, qtx, batch); err != nil {
				return err
			}
			if err := s.audit.Write(ctx, qtx, entitySettlement, batchID, actorID, "payouts_initiated", prev, batch.Status, nil); err != nil {
				return err
			}
		}
		if batch, err = refreshBatchProgress(ctx, qtx, s.audit, batchID, actorID); err != nil {
			return err
		}
		pending, err = qtx.ListPayouts(ctx, batchID, domain.PayoutStatusPending)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("commission payouts initiated",
		zap.String("settlement_id", batchID.String()),
		zap.Int("pending", len(pending)),
	)
	s.submit(ctx, pending...)
	return &batch, nil
}

func (s *DispatchService) submit(ctx context.Context, rows ...models.PayoutTransaction) {
	if s.queue == nil {
		return
	}
	for _, p := range rows {
		if err := s.queue.Submit(ctx, p.ID); err != nil {
			zap.L().Warn("payout not queued; it stays pending",
				zap.String("payout_id", p.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// Dispatch performs one attempt for a pending row. Provider failures are
// recorded on the row rather than returned; the returned error covers lease,
// state and storage problems only.
func (s *DispatchService) Dispatch(ctx context.Context, payoutID uuid.UUID) (*models.PayoutTransaction, error) {
	release, err := s.locker.Acquire(ctx, "payout:"+payoutID.String(), s.timeout+leaseGrace)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, domain.ErrDispatchInProgress
		}
		return nil, err
	}
	defer release()

	var (
		p   models.PayoutTransaction
		ben models.Beneficiary
	)
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		if p, err = s.ledger.IncrementAttempt(ctx, qtx, payoutID); err != nil {
			return err
		}
		if ben, err = qtx.GetBeneficiary(ctx, p.BeneficiaryID); err != nil {
			return fmt.Errorf("load beneficiary: %w", err)
		}
		_, err = refreshBatchProgress(ctx, qtx, s.audit, p.BatchID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Outcomes are persisted even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	provider, err := s.providers.Get(p.Provider)
	if err != nil {
		return s.finish(persistCtx, p.ID, domain.PayoutStatusFailed, "", map[string]any{"error": "provider_unavailable", "message": err.Error()}, "dispatch_failed")
	}

	done := s.await(p.ID)
	defer s.forget(p.ID)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	ack, sendErr := provider.SendPayout(callCtx, gateway.PayoutRequest{
		PayoutID:  p.ID,
		Reference: *p.ConversationID,
		Phone:     ben.Phone,
		Amount:    p.Amount,
		Remarks:   "Commission payout",
	})
	observability.ObserveProviderRequest(provider.Name(), time.Since(started))

	if sendErr != nil {
		var rejected *gateway.RejectedError
		switch {
		case ctx.Err() != nil:
			return s.interrupted(persistCtx, p.ID)
		case errors.Is(sendErr, domain.ErrProviderTimeout), errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return s.timedOut(persistCtx, p.ID, provider.Name())
		case errors.As(sendErr, &rejected):
			observability.IncrementDispatch(provider.Name(), "rejected")
			return s.finish(persistCtx, p.ID, domain.PayoutStatusFailed, "", rejected.Details(), "dispatch_rejected")
		default:
			observability.IncrementDispatch(provider.Name(), "error")
			zap.L().Warn("payout dispatch failed",
				zap.String("payout_id", p.ID.String()),
				zap.Int("attempt", p.Attempts),
				zap.Error(sendErr),
			)
			return s.finish(persistCtx, p.ID, domain.PayoutStatusFailed, "", map[string]any{"error": "provider_error", "message": sendErr.Error()}, "dispatch_failed")
		}
	}

	if ack.Settled {
		observability.IncrementDispatch(provider.Name(), "completed")
		return s.finish(persistCtx, p.ID, domain.PayoutStatusCompleted, ack.ProviderTxnID, nil, "dispatch_completed")
	}

	if err := s.recordAck(persistCtx, p, ack); err != nil {
		return nil, err
	}

	select {
	case <-done:
		return s.current(persistCtx, p.ID)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return s.interrupted(persistCtx, p.ID)
		}
		return s.timedOut(persistCtx, p.ID, provider.Name())
	}
}

func (s *DispatchService) timedOut(ctx context.Context, payoutID uuid.UUID, provider string) (*models.PayoutTransaction, error) {
	observability.IncrementDispatch(provider, "timeout")
	zap.L().Warn("payout dispatch timed out", zap.String("payout_id", payoutID.String()), zap.Error(domain.ErrProviderTimeout))
	return s.finish(ctx, payoutID, domain.PayoutStatusFailed, "", map[string]any{"error": "timeout"}, "dispatch_timeout")
}

// interrupted parks a row whose outcome is unknown for manual reconciliation.
func (s *DispatchService) interrupted(ctx context.Context, payoutID uuid.UUID) (*models.PayoutTransaction, error) {
	zap.L().Warn("payout dispatch interrupted", zap.String("payout_id", payoutID.String()))
	return s.finish(ctx, payoutID, domain.PayoutStatusReconciliation, "", map[string]any{"error": "dispatch_interrupted"}, "dispatch_interrupted")
}

// recordAck stores the provider's conversation ID so the callback can find the row.
func (s *DispatchService) recordAck(ctx context.Context, p models.PayoutTransaction, ack gateway.Ack) error {
	if ack.ConversationID == "" {
		return nil
	}
	reference := *p.ConversationID
	return s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		rows, err := qtx.SetPayoutAttemptConversation(ctx, reference, ack.ConversationID)
		if err != nil {
			return fmt.Errorf("record attempt conversation: %w", err)
		}
		if err := requireExactlyOne(rows, "record attempt conversation"); err != nil {
			return err
		}

		cur, err := s.ledger.Load(ctx, qtx, uuid.Nil, p.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.PayoutStatusInProgress || cur.Attempts != p.Attempts {
			return nil
		}
		cur.ConversationID = &ack.ConversationID
		rows, err = qtx.UpdatePayout(ctx, cur)
		if err != nil {
			return fmt.Errorf("record provider conversation: %w", err)
		}
		return requireExactlyOne(rows, "record provider conversation")
	})
}

// finish applies a dispatch outcome unless a callback already resolved the row.
func (s *DispatchService) finish(ctx context.Context, payoutID uuid.UUID, status, providerTxnID string, details map[string]any, action string) (*models.PayoutTransaction, error) {
	var p models.PayoutTransaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		if p, err = s.ledger.Load(ctx, qtx, uuid.Nil, payoutID); err != nil {
			return err
		}
		if p.Status != domain.PayoutStatusInProgress {
			return nil
		}
		if providerTxnID != "" {
			p.ProviderTxnID = &providerTxnID
		}
		if err := s.ledger.UpdateStatus(ctx, qtx, &p, status, details, nil, action); err != nil {
			return err
		}
		_, err = refreshBatchProgress(ctx, qtx, s.audit, p.BatchID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DispatchService) current(ctx context.Context, payoutID uuid.UUID) (*models.PayoutTransaction, error) {
	p, err := s.store.Queries().GetPayout(ctx, payoutID)
	if err != nil {
		return nil, mapPayoutErr(err)
	}
	return &p, nil
}

// HandleCallback applies an asynchronous provider result. Results are matched
// to the attempt that produced them, so a success for any earlier attempt still
// completes the row: after a timeout, while a retry is queued, or while a later
// attempt is in flight. Failures only count for the latest attempt. Anything
// for a completed row is rejected with ErrAlreadyCompleted.
func (s *DispatchService) HandleCallback(ctx context.Context, cb gateway.Callback) (*models.PayoutTransaction, error) {
	var (
		p       models.PayoutTransaction
		changed bool
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		payoutID, attempt, err := resolveAttempt(ctx, qtx, cb)
		if err != nil {
			return err
		}
		if p, err = s.ledger.Load(ctx, qtx, uuid.Nil, payoutID); err != nil {
			return err
		}
		if p.Status == domain.PayoutStatusCompleted {
			return domain.ErrAlreadyCompleted
		}
		if attempt == 0 {
			attempt = p.Attempts
		}
		latest := attempt == p.Attempts && p.Status != domain.PayoutStatusPending

		if cb.Success {
			if !latest {
				zap.L().Warn("success for an earlier payout attempt",
					zap.String("payout_id", p.ID.String()),
					zap.Int("attempt", attempt),
					zap.Int("attempts", p.Attempts),
					zap.String("status", p.Status),
				)
			}
			if cb.ProviderTxnID != "" {
				p.ProviderTxnID = &cb.ProviderTxnID
			}
			p.ErrorDetails = nil
			err = transitionPayout(ctx, qtx, s.audit, &p, domain.PayoutStatusCompleted, nil, "callback_completed", map[string]any{
				"attempt": attempt,
			})
		} else {
			if !latest || p.Status == domain.PayoutStatusFailed {
				return nil
			}
			err = s.ledger.UpdateStatus(ctx, qtx, &p, domain.PayoutStatusFailed, cb.Details(), nil, "callback_failed")
		}
		if err != nil {
			return err
		}
		changed = true
		_, err = refreshBatchProgress(ctx, qtx, s.audit, p.BatchID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		result := "failed"
		if cb.Success {
			result = "completed"
		}
		observability.IncrementDispatch(p.Provider, "callback_"+result)
		zap.L().Info("payout callback applied",
			zap.String("payout_id", p.ID.String()),
			zap.String("status", p.Status),
		)
	}
	s.notify(p.ID)
	return &p, nil
}

// resolveAttempt finds the payout and attempt number a callback refers to.
// Attempt 0 means the row was matched on its current conversation ID only.
func resolveAttempt(ctx context.Context, qtx repository.Querier, cb gateway.Callback) (uuid.UUID, int, error) {
	for _, ref := range []string{cb.ConversationID, cb.OriginatorConversationID} {
		if ref == "" {
			continue
		}
		a, err := qtx.GetPayoutAttempt(ctx, ref)
		if err == nil {
			return a.PayoutID, a.Attempt, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, 0, fmt.Errorf("load payout attempt: %w", err)
		}
	}
	for _, ref := range []string{cb.ConversationID, cb.OriginatorConversationID} {
		if ref == "" {
			continue
		}
		p, err := qtx.GetPayoutByConversationID(ctx, ref)
		if err == nil {
			return p.ID, 0, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, 0, mapPayoutErr(err)
		}
	}
	return uuid.Nil, 0, domain.ErrPayoutNotFound
}

// Retry resets a failed row to pending and queues it for another attempt.
func (s *DispatchService) Retry(ctx context.Context, batchID, payoutID uuid.UUID, actorID *uuid.UUID) (*models.PayoutTransaction, error) {
	var p models.PayoutTransaction
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		if p, err = s.ledger.Load(ctx, qtx, batchID, payoutID); err != nil {
			return err
		}
		switch {
		case p.Status == domain.PayoutStatusCompleted:
			return domain.ErrAlreadyCompleted
		case p.Status != domain.PayoutStatusFailed:
			return &domain.InvalidStateError{Entity: entityPayout, Operation: "retry", Status: p.Status}
		case p.Attempts >= domain.MaxPayoutAttempts:
			return domain.ErrMaxAttemptsExceeded
		}
		if err := s.ledger.UpdateStatus(ctx, qtx, &p, domain.PayoutStatusPending, nil, actorID, "retry_requested"); err != nil {
			return err
		}
		_, err = refreshBatchProgress(ctx, qtx, s.audit, batchID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.submit(ctx, p)
	return &p, nil
}

// RecoverStale parks in_progress rows whose attempt outlived the lease, which
// happens when a dispatcher dies mid-call. Their outcome is unknown so they go
// to reconciliation rather than back to pending.
func (s *DispatchService) RecoverStale(ctx context.Context, limit int32) (int, error) {
	cutoff := s.now().UTC().Add(-(s.timeout + leaseGrace))
	stale, err := s.store.Queries().ListStaleInProgressPayouts(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale payouts: %w", err)
	}

	recovered := 0
	for _, row := range stale {
		release, err := s.locker.Acquire(ctx, "payout:"+row.ID.String(), leaseGrace)
		if errors.Is(err, lease.ErrHeld) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
			p, err := s.ledger.Load(ctx, qtx, uuid.Nil, row.ID)
			if err != nil {
				return err
			}
			if p.Status != domain.PayoutStatusInProgress || p.LastAttemptAt == nil || !p.LastAttemptAt.Before(cutoff) {
				return nil
			}
			if err := s.ledger.UpdateStatus(ctx, qtx, &p, domain.PayoutStatusReconciliation, map[string]any{"error": "dispatch_interrupted"}, nil, "dispatch_interrupted"); err != nil {
				return err
			}
			recovered++
			_, err = refreshBatchProgress(ctx, qtx, s.audit, p.BatchID, nil)
			return err
		})
		release()
		if err != nil {
			return recovered, err
		}
	}
	if recovered > 0 {
		zap.L().Warn("stale payouts moved to reconciliation", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *DispatchService) await(payoutID uuid.UUID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	s.waiters[payoutID] = ch
	return ch
}

func (s *DispatchService) forget(payoutID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiters, payoutID)
}

func (s *DispatchService) notify(payoutID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[payoutID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
