package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementLifecycle_RetryAndManualReachFullCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00", "2000.00", "1500.00")
	env.provider.script(agents[1].phone, reject)
	env.provider.script(agents[2].phone, reject)

	batch := env.generate(t, settlementDay)
	started, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusReconciliation, started.Status)

	status, err := env.status.GetStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), status.Counts.Total)
	assert.Equal(t, int64(1), status.Counts.Completed)
	assert.Equal(t, int64(2), status.Counts.Failed)
	assert.Equal(t, 33, status.CompletionPercentage)
	assert.Equal(t, domain.CategoryStatusPartiallyFailed, status.PayoutStatus.Commissions)

	failed := env.rowFor(t, batch.ID, agents[1].id)
	assert.Equal(t, "rejected", failed.ErrorDetails["error"])
	assert.Equal(t, 1, failed.Attempts)

	retried, err := env.dispatch.Retry(ctx, batch.ID, failed.ID, env.actor)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, retried.Status)
	row := env.rowFor(t, batch.ID, agents[1].id)
	assert.Equal(t, domain.PayoutStatusCompleted, row.Status)
	assert.Equal(t, 2, row.Attempts)

	status, err = env.status.GetStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 67, status.CompletionPercentage)

	last := env.rowFor(t, batch.ID, agents[2].id)
	manual, err := env.manual.RecordManual(ctx, batch.ID, last.ID, ManualEntry{
		TransactionRef:  "QK12ABC345",
		TransactionDate: "2026-03-11",
		Phone:           agents[2].phone,
		Notes:           "paid from till",
	}, env.actor)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, manual.Status)
	assert.Equal(t, domain.ProviderManual, manual.Provider)
	assert.Equal(t, 1, manual.Attempts)

	status, err = env.status.GetStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.CompletionPercentage)
	assert.Equal(t, domain.BatchStatusProcessed, status.Status)
	assert.Equal(t, domain.CategoryStatusManual, status.PayoutStatus.Commissions)

	_, err = env.settlements.PayoutCategory(ctx, batch.ID, domain.CategoryInsurance, env.actor)
	require.NoError(t, err)
	done, err := env.settlements.PayoutCategory(ctx, batch.ID, domain.CategoryAdministrative, env.actor)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, done.Status)

	details, err := env.status.GetDetails(ctx, batch.ID, "completed")
	require.NoError(t, err)
	assert.Len(t, details, 3)
	for _, d := range details {
		assert.NotEmpty(t, d.BeneficiaryName)
	}
}

func TestInitiate_RejectsClosedBatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedDay(t, settlementDay, "1000.00")
	batch := env.generate(t, settlementDay)
	_, err := env.settlements.Process(context.Background(), batch.ID, "", env.actor)
	require.NoError(t, err)

	_, err = env.dispatch.InitiateCommissionPayouts(context.Background(), batch.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.dispatch.InitiateCommissionPayouts(context.Background(), uuid.New(), env.actor)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, reject, reject, reject, reject, reject, reject)
	batch := env.generate(t, settlementDay)

	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	row := env.rowFor(t, batch.ID, agents[0].id)

	for attempt := 2; attempt <= domain.MaxPayoutAttempts; attempt++ {
		_, err := env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
		require.NoError(t, err)
		got := env.rowFor(t, batch.ID, agents[0].id)
		require.Equal(t, attempt, got.Attempts)
		require.Equal(t, domain.PayoutStatusFailed, got.Status)
	}

	_, err = env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrMaxAttemptsExceeded)
	assert.Equal(t, domain.PayoutStatusFailed, env.rowFor(t, batch.ID, agents[0].id).Status)

	// Manual entry is still possible once the cap is reached.
	_, err = env.manual.RecordManual(ctx, batch.ID, row.ID, ManualEntry{
		TransactionRef: "QK99", TransactionDate: "2026-03-11", Phone: agents[0].phone,
	}, env.actor)
	require.NoError(t, err)
}

func TestRetry_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	batch := env.generate(t, settlementDay)
	row := env.rowFor(t, batch.ID, agents[0].id)

	_, err := env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "pending rows cannot be retried")

	_, err = env.dispatch.Retry(ctx, uuid.New(), row.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrPayoutNotFound, "row must belong to the batch")

	_, err = env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	_, err = env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestDispatch_TimeoutFailsRowAndLateSuccessCompletesIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, hang)
	batch := env.generate(t, settlementDay)

	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)

	row := env.rowFor(t, batch.ID, agents[0].id)
	assert.Equal(t, domain.PayoutStatusFailed, row.Status)
	assert.Equal(t, map[string]any{"error": "timeout"}, row.ErrorDetails)
	require.NotNil(t, row.ConversationID)

	got, err := env.dispatch.HandleCallback(ctx, gateway.Callback{
		ConversationID: *row.ConversationID,
		ProviderTxnID:  "NLJ41HAY6Q",
		Success:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, got.Status)
	require.NotNil(t, got.ProviderTxnID)
	assert.Equal(t, "NLJ41HAY6Q", *got.ProviderTxnID)
	assert.Nil(t, got.ErrorDetails)

	_, err = env.dispatch.HandleCallback(ctx, gateway.Callback{ConversationID: *row.ConversationID, Success: true})
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestDispatch_AsyncCallbackCompletesAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, async)
	batch := env.generate(t, settlementDay)

	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)

	row := env.rowFor(t, batch.ID, agents[0].id)
	assert.Equal(t, domain.PayoutStatusCompleted, row.Status)
	require.NotNil(t, row.ProviderTxnID)
	assert.Equal(t, "TXN-"+attemptReference(row.ID, 1), *row.ProviderTxnID)
}

func TestDispatch_LeaseHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	batch := env.generate(t, settlementDay)
	row := env.rowFor(t, batch.ID, agents[0].id)

	release, err := env.locker.Acquire(ctx, "payout:"+row.ID.String(), time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = env.dispatch.Dispatch(ctx, row.ID)
	assert.ErrorIs(t, err, domain.ErrDispatchInProgress)
	assert.Zero(t, env.rowFor(t, batch.ID, agents[0].id).Attempts)
}

func TestDispatch_CanceledCallerParksRowForReconciliation(t *testing.T) {
	env := newTestEnv(t)
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, hang)
	batch := env.generate(t, settlementDay)
	row := env.rowFor(t, batch.ID, agents[0].id)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	got, err := env.dispatch.Dispatch(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusReconciliation, got.Status)
	assert.Equal(t, "dispatch_interrupted", got.ErrorDetails["error"])
}

func TestHandleCallback_FailureAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	batch := env.generate(t, settlementDay)
	row := env.rowFor(t, batch.ID, agents[0].id)

	// Simulate a result arriving while the attempt is still waiting.
	var attempt models.PayoutTransaction
	require.NoError(t, env.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		attempt, err = env.ledger.IncrementAttempt(ctx, qtx, row.ID)
		return err
	}))

	got, err := env.dispatch.HandleCallback(ctx, gateway.Callback{
		ConversationID:           "AG_unknown",
		OriginatorConversationID: *attempt.ConversationID,
		ResultCode:               "2001",
		ResultDesc:               "The initiator information is invalid.",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, got.Status)
	assert.Equal(t, "2001", got.ErrorDetails["code"])

	// A duplicate failure is a no-op.
	again, err := env.dispatch.HandleCallback(ctx, gateway.Callback{ConversationID: *attempt.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, again.Status)

	_, err = env.dispatch.HandleCallback(ctx, gateway.Callback{ConversationID: "AG_missing"})
	assert.ErrorIs(t, err, domain.ErrPayoutNotFound)
}

func TestHandleCallback_EarlierAttemptSuccessAfterRetryRan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, hang, reject)
	batch := env.generate(t, settlementDay)

	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	row := env.rowFor(t, batch.ID, agents[0].id)
	require.Equal(t, domain.PayoutStatusFailed, row.Status)

	_, err = env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	require.NoError(t, err)
	row = env.rowFor(t, batch.ID, agents[0].id)
	require.Equal(t, domain.PayoutStatusFailed, row.Status)
	require.Equal(t, 2, row.Attempts)

	got, err := env.dispatch.HandleCallback(ctx, gateway.Callback{
		ConversationID:           "AG_20260310_late",
		OriginatorConversationID: attemptReference(row.ID, 1),
		ProviderTxnID:            "NLJ7RT61SV",
		Success:                  true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, got.Status)
	require.NotNil(t, got.ProviderTxnID)
	assert.Equal(t, "NLJ7RT61SV", *got.ProviderTxnID)

	_, err = env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)

	status, err := env.status.GetStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.CompletionPercentage)
}

func TestHandleCallback_EarlierAttemptSuccessWhileRetryQueued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, reject)
	batch := env.generate(t, settlementDay)

	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	row := env.rowFor(t, batch.ID, agents[0].id)

	env.dispatch.SetQueue(nil)
	_, err = env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	require.NoError(t, err)
	ref1 := attemptReference(row.ID, 1)

	// A failure for the superseded attempt must not undo the retry.
	got, err := env.dispatch.HandleCallback(ctx, gateway.Callback{OriginatorConversationID: ref1, ResultCode: "2001"})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, got.Status)

	got, err = env.dispatch.HandleCallback(ctx, gateway.Callback{OriginatorConversationID: ref1, ProviderTxnID: "NLJ0QUEUED", Success: true})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, got.Status)

	calls := env.provider.calls
	_, err = env.dispatch.Dispatch(ctx, row.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
	assert.Equal(t, calls, env.provider.calls, "queued attempt must not reach the provider")
	assert.Equal(t, 1, env.rowFor(t, batch.ID, agents[0].id).Attempts)
}

func TestHandleCallback_EarlierAttemptSuccessWhileLaterInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, reject)
	batch := env.generate(t, settlementDay)

	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	row := env.rowFor(t, batch.ID, agents[0].id)
	env.dispatch.SetQueue(nil)
	_, err = env.dispatch.Retry(ctx, batch.ID, row.ID, env.actor)
	require.NoError(t, err)
	require.NoError(t, env.store.RunInTx(ctx, func(qtx repository.Querier) error {
		_, err := env.ledger.IncrementAttempt(ctx, qtx, row.ID)
		return err
	}))

	got, err := env.dispatch.HandleCallback(ctx, gateway.Callback{
		ConversationID: attemptReference(row.ID, 1),
		Success:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, got.Status)

	// The second attempt's own outcome no longer applies.
	final, err := env.dispatch.finish(ctx, row.ID, domain.PayoutStatusFailed, "", map[string]any{"error": "timeout"}, "dispatch_timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, final.Status)
	assert.Nil(t, final.ErrorDetails)
}

func TestRecoverStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00", "2000.00")
	batch := env.generate(t, settlementDay)
	stale := env.rowFor(t, batch.ID, agents[0].id)
	fresh := env.rowFor(t, batch.ID, agents[1].id)

	env.ledger.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, env.store.RunInTx(ctx, func(qtx repository.Querier) error {
		_, err := env.ledger.IncrementAttempt(ctx, qtx, stale.ID)
		return err
	}))
	env.ledger.now = time.Now
	require.NoError(t, env.store.RunInTx(ctx, func(qtx repository.Querier) error {
		_, err := env.ledger.IncrementAttempt(ctx, qtx, fresh.ID)
		return err
	}))

	n, err := env.dispatch.RecoverStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := env.rowFor(t, batch.ID, agents[0].id)
	assert.Equal(t, domain.PayoutStatusReconciliation, got.Status)
	assert.Equal(t, "dispatch_interrupted", got.ErrorDetails["error"])
	assert.Equal(t, domain.PayoutStatusInProgress, env.rowFor(t, batch.ID, agents[1].id).Status)

	// Reconciliation rows are closed by manual entry, not retry.
	_, err = env.dispatch.Retry(ctx, batch.ID, got.ID, env.actor)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = env.manual.RecordManual(ctx, batch.ID, got.ID, ManualEntry{
		TransactionRef: "QK1", TransactionDate: "2026-03-10T12:00:00Z", Phone: agents[0].phone,
	}, env.actor)
	require.NoError(t, err)
}

func TestRecordManual_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	batch := env.generate(t, settlementDay)
	row := env.rowFor(t, batch.ID, agents[0].id)

	_, err := env.manual.RecordManual(ctx, batch.ID, row.ID, ManualEntry{}, env.actor)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"transaction_ref", "transaction_date", "phone"}, fieldNames(verr))

	_, err = env.manual.RecordManual(ctx, batch.ID, row.ID, ManualEntry{
		TransactionRef:  "QK1",
		TransactionDate: time.Now().UTC().AddDate(0, 0, 3).Format("2006-01-02"),
		Phone:           "12345",
	}, env.actor)
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"transaction_date", "phone"}, fieldNames(verr))
	assert.Contains(t, verr.Error(), "Transaction date cannot be in the future")

	_, err = env.manual.RecordManual(ctx, batch.ID, row.ID, ManualEntry{
		TransactionRef: "QK1", TransactionDate: "10/03/2026", Phone: agents[0].phone,
	}, env.actor)
	require.True(t, errors.As(err, &verr))

	valid := ManualEntry{TransactionRef: "QK1", TransactionDate: "2026-03-11", Phone: agents[0].phone}
	_, err = env.manual.RecordManual(ctx, batch.ID, row.ID, valid, env.actor)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "pending rows are dispatched, not reconciled")
}

func TestRecordManual_TransactionDateIsCalendarDay(t *testing.T) {
	manual := &ManualReconciliationService{
		// 01:30 on 11 March in Nairobi.
		now: func() time.Time { return time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC) },
	}
	cases := []struct {
		date   string
		future bool
	}{
		{date: "2026-03-11"},
		{date: "2026-03-10"},
		{date: "2026-03-12", future: true},
		{date: "2026-03-11T01:00:00+03:00"},
		{date: "2026-03-11T02:00:00+03:00", future: true},
	}
	for _, tc := range cases {
		t.Run(tc.date, func(t *testing.T) {
			err := manual.validate(&ManualEntry{TransactionRef: "QK1", TransactionDate: tc.date, Phone: "0712345678"})
			if !tc.future {
				assert.NoError(t, err)
				return
			}
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, []string{"transaction_date"}, fieldNames(verr))
		})
	}
}

func TestRecordManual_SecondCallAlreadyCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	env.provider.script(agents[0].phone, reject)
	batch := env.generate(t, settlementDay)
	_, err := env.dispatch.InitiateCommissionPayouts(ctx, batch.ID, env.actor)
	require.NoError(t, err)
	row := env.rowFor(t, batch.ID, agents[0].id)

	entry := ManualEntry{TransactionRef: "QK1", TransactionDate: "2026-03-11", Phone: agents[0].phone}
	got, err := env.manual.RecordManual(ctx, batch.ID, row.ID, entry, env.actor)
	require.NoError(t, err)
	require.NotNil(t, got.ManualTransactionRef)
	assert.Equal(t, "QK1", *got.ManualTransactionRef)
	require.NotNil(t, got.ManualTransactionDetails)
	assert.Equal(t, "2026-03-11", got.ManualTransactionDetails.TransactionDate)

	_, err = env.manual.RecordManual(ctx, batch.ID, row.ID, entry, env.actor)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)

	history, err := env.ledger.History(ctx, batch.ID, row.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(history))
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []string{"created", "dispatch_started", "dispatch_rejected", "manual_entry"}, actions)
}

func TestCallbackService_Signature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agents := env.seedDay(t, settlementDay, "1000.00")
	batch := env.generate(t, settlementDay)
	row := env.rowFor(t, batch.ID, agents[0].id)
	var attempt models.PayoutTransaction
	require.NoError(t, env.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		attempt, err = env.ledger.IncrementAttempt(ctx, qtx, row.ID)
		return err
	}))

	payload := []byte(`{"conversation_id":"` + *attempt.ConversationID + `","provider_txn_id":"T1","success":true}`)
	_, err := env.callbacks.HandlePayoutCallback(ctx, payload, "sha256=bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	got, err := env.callbacks.HandlePayoutCallback(ctx, payload, SignPayload([]byte("hook-key"), payload))
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, got.Status)
}

func TestCompletionPercentage(t *testing.T) {
	cases := []struct {
		completed, total int64
		want             int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{199, 200, 99},
		{3, 3, 100},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CompletionPercentage(c.completed, c.total), "%d/%d", c.completed, c.total)
	}
}

func TestPayoutTransitions(t *testing.T) {
	allowed := [][2]string{
		{domain.PayoutStatusPending, domain.PayoutStatusInProgress},
		{domain.PayoutStatusInProgress, domain.PayoutStatusCompleted},
		{domain.PayoutStatusInProgress, domain.PayoutStatusReconciliation},
		{domain.PayoutStatusFailed, domain.PayoutStatusPending},
		{domain.PayoutStatusFailed, domain.PayoutStatusCompleted},
		{domain.PayoutStatusReconciliation, domain.PayoutStatusCompleted},
		{domain.PayoutStatusPending, domain.PayoutStatusCompleted},
	}
	for _, tr := range allowed {
		assert.True(t, canTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	denied := [][2]string{
		{domain.PayoutStatusPending, domain.PayoutStatusReconciliation},
		{domain.PayoutStatusCompleted, domain.PayoutStatusFailed},
		{domain.PayoutStatusCompleted, domain.PayoutStatusPending},
		{domain.PayoutStatusReconciliation, domain.PayoutStatusPending},
		{"unknown", domain.PayoutStatusPending},
	}
	for _, tr := range denied {
		assert.False(t, canTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func fieldNames(verr *domain.ValidationError) []string {
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}
