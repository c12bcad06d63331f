package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/db"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/lease"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var settlementDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

type outcome int

const (
	settle outcome = iota
	reject
	hang
	async
)

// scriptedProvider plays back outcomes per phone number; phones with no
// script left settle inline.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts map[string][]outcome
	sink    gateway.CallbackSink
	calls   int
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{scripts: make(map[string][]outcome)}
}

func (p *scriptedProvider) Name() string { return domain.ProviderMpesa }

func (p *scriptedProvider) script(phone string, outcomes ...outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[phone] = append(p.scripts[phone], outcomes...)
}

func (p *scriptedProvider) next(phone string) outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	queue := p.scripts[phone]
	if len(queue) == 0 {
		return settle
	}
	p.scripts[phone] = queue[1:]
	return queue[0]
}

func (p *scriptedProvider) SendPayout(ctx context.Context, req gateway.PayoutRequest) (gateway.Ack, error) {
	switch p.next(req.Phone) {
	case reject:
		return gateway.Ack{}, &gateway.RejectedError{Provider: p.Name(), Code: "2001", Description: "The initiator information is invalid."}
	case hang:
		<-ctx.Done()
		return gateway.Ack{}, ctx.Err()
	case async:
		conversation := "AG_" + uuid.NewString()
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = p.sink(context.Background(), gateway.Callback{
				ConversationID:           conversation,
				OriginatorConversationID: req.Reference,
				ProviderTxnID:            "TXN-" + req.Reference,
				Success:                  true,
				ResultCode:               "0",
			})
		}()
		return gateway.Ack{ConversationID: conversation}, nil
	default:
		return gateway.Ack{ConversationID: "TXN-" + req.Reference, ProviderTxnID: "TXN-" + req.Reference, Settled: true}, nil
	}
}

// syncQueue dispatches on Submit so tests observe the outcome immediately.
type syncQueue struct {
	dispatch *DispatchService
}

func (q syncQueue) Submit(ctx context.Context, payoutID uuid.UUID) error {
	_, err := q.dispatch.Dispatch(ctx, payoutID)
	if errors.Is(err, domain.ErrDispatchInProgress) {
		return nil
	}
	return err
}

type testEnv struct {
	db          *sql.DB
	store       *repository.SQLiteStore
	locker      *lease.LocalLocker
	provider    *scriptedProvider
	bank        *gateway.BankProvider
	ledger      *PayoutLedger
	settlements *SettlementService
	dispatch    *DispatchService
	manual      *ManualReconciliationService
	status      *StatusService
	integrity   *IntegrityService
	callbacks   *CallbackService
	actor       *uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "settlements.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.MigrateSQLite(context.Background(), sqlDB))

	store := repository.NewSQLiteStore(sqlDB)
	audit := NewAuditService(store)
	ledger := NewPayoutLedger(store, audit)
	locker := lease.NewLocalLocker()
	provider := newScriptedProvider()
	bank := gateway.NewBankProvider(0)

	dispatch := NewDispatchService(store, ledger, gateway.Registry{
		domain.ProviderMpesa: provider,
		domain.ProviderBank:  bank,
	}, locker, 200*time.Millisecond)
	dispatch.SetQueue(syncQueue{dispatch: dispatch})

	callbacks := NewCallbackService(dispatch, "hook-key", false)
	provider.sink = callbacks.Sink()

	actor := uuid.New()
	return &testEnv{
		db:       sqlDB,
		store:    store,
		locker:   locker,
		provider: provider,
		bank:     bank,
		ledger:   ledger,
		settlements: NewSettlementService(store, ledger, bank, locker, CategoryAccounts{
			Insurance:      "UNDERWRITER-001",
			Administrative: "PLATFORM-OPS-001",
		}, 200*time.Millisecond),
		dispatch:  dispatch,
		manual:    NewManualReconciliationService(store, ledger),
		status:    NewStatusService(store, ledger),
		integrity: NewIntegrityService(store),
		callbacks: callbacks,
		actor:     &actor,
	}
}

type agent struct {
	id    uuid.UUID
	phone string
}

// seedDay creates one agent per premium amount on a plan paying agents 10%,
// so commissions are a tenth of each premium.
func (e *testEnv) seedDay(t *testing.T, day time.Time, premiums ...string) []agent {
	t.Helper()
	ctx := context.Background()
	q := e.store.Queries()

	plan := models.Plan{
		ID:                   uuid.New(),
		Name:                 "Family Cover",
		AgentCommission:      models.CommissionPortion{Kind: domain.CommissionPercentage, Value: decimal.NewFromInt(10)},
		SuperAgentCommission: models.CommissionPortion{Kind: domain.CommissionFixed, Value: decimal.Zero},
		AdminFee:             models.CommissionPortion{Kind: domain.CommissionFixed, Value: decimal.NewFromInt(5)},
		CreatedAt:            day,
	}
	require.NoError(t, q.UpsertPlan(ctx, plan))

	agents := make([]agent, 0, len(premiums))
	for i, premium := range premiums {
		a := agent{id: uuid.New(), phone: "25471200000" + string(rune('0'+i))}
		require.NoError(t, q.UpsertBeneficiary(ctx, models.Beneficiary{
			ID:        a.id,
			Type:      domain.BeneficiaryAgent,
			Name:      "Agent " + string(rune('A'+i)),
			Phone:     a.phone,
			Provider:  domain.ProviderMpesa,
			CreatedAt: day,
		}))
		require.NoError(t, q.InsertPayment(ctx, models.Payment{
			ID:          uuid.New(),
			MemberID:    uuid.New(),
			PlanID:      plan.ID,
			AgentID:     &a.id,
			Amount:      decimal.RequireFromString(premium),
			AllocatedAt: day.Add(time.Duration(9+i) * time.Hour),
		}))
		agents = append(agents, a)
	}
	return agents
}

func (e *testEnv) rowFor(t *testing.T, batchID, beneficiaryID uuid.UUID) models.PayoutTransaction {
	t.Helper()
	rows, err := e.store.Queries().ListPayouts(context.Background(), batchID, "")
	require.NoError(t, err)
	for _, r := range rows {
		if r.BeneficiaryID == beneficiaryID {
			return r
		}
	}
	t.Fatalf("no payout row for beneficiary %s", beneficiaryID)
	return models.PayoutTransaction{}
}

func (e *testEnv) generate(t *testing.T, day time.Time) *models.SettlementBatch {
	t.Helper()
	batch, err := e.settlements.Generate(context.Background(), day, e.actor)
	require.NoError(t, err)
	return batch
}
