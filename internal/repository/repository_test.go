package repository

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/db"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/testutil/dblock"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env")
}

type txStore interface {
	Queries() Querier
	RunInTx(ctx context.Context, fn func(q Querier) error) error
}

func sqliteStore(t *testing.T) txStore {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.MigrateSQLite(context.Background(), sqlDB))
	return NewSQLiteStore(sqlDB)
}

func postgresStore(t *testing.T) txStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	dblock.Acquire(t)
	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.MigratePostgres(context.Background(), pool))
	return NewStore(pool)
}

// drivers runs fn against every available storage driver.
func drivers(t *testing.T, fn func(t *testing.T, s txStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, sqliteStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, postgresStore(t)) })
}

// uniqueDay keeps Postgres runs from colliding on the settlement_date constraint.
func uniqueDay() time.Time {
	return time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, rand.IntN(200000))
}

type fixture struct {
	day     time.Time
	agent   models.Beneficiary
	payment models.Payment
	batch   models.SettlementBatch
}

func seed(t *testing.T, s txStore) fixture {
	t.Helper()
	ctx := context.Background()
	q := s.Queries()
	day := uniqueDay()

	plan := models.Plan{
		ID:                   uuid.New(),
		Name:                 "Basic",
		AgentCommission:      models.CommissionPortion{Kind: "percentage", Value: decimal.RequireFromString("12.5")},
		SuperAgentCommission: models.CommissionPortion{Kind: "fixed", Value: decimal.NewFromInt(2)},
		AdminFee:             models.CommissionPortion{Kind: "fixed", Value: decimal.NewFromInt(5)},
		CreatedAt:            day,
	}
	require.NoError(t, q.UpsertPlan(ctx, plan))

	agent := models.Beneficiary{ID: uuid.New(), Type: "agent", Name: "Wanjiku", Phone: "254712345678", Provider: "mpesa", CreatedAt: day}
	require.NoError(t, q.UpsertBeneficiary(ctx, agent))

	payment := models.Payment{
		ID:          uuid.New(),
		MemberID:    uuid.New(),
		PlanID:      plan.ID,
		AgentID:     &agent.ID,
		Amount:      decimal.RequireFromString("1234.56"),
		AllocatedAt: day.Add(10 * time.Hour),
	}
	require.NoError(t, q.InsertPayment(ctx, payment))

	batch := models.SettlementBatch{
		ID:             uuid.New(),
		SettlementDate: day,
		Status:         "open",
		Totals:         models.BatchTotals{TotalPayments: payment.Amount, TotalAgentCommissions: decimal.RequireFromString("154.32"), PaymentCount: 1},
		PayoutStatus:   models.PayoutStatusSnapshot{Insurance: "pending", Administrative: "pending", Commissions: "pending"},
		CreatedAt:      day,
		UpdatedAt:      day,
	}
	require.NoError(t, q.InsertBatch(ctx, batch))
	return fixture{day: day, agent: agent, payment: payment, batch: batch}
}

func TestNotFoundIsMapped(t *testing.T) {
	drivers(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		_, err := s.Queries().GetBatch(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Queries().GetPayoutByConversationID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Queries().GetBeneficiary(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBatchDateIsUnique(t *testing.T) {
	drivers(t, func(t *testing.T, s txStore) {
		f := seed(t, s)
		dup := f.batch
		dup.ID = uuid.New()
		err := s.Queries().InsertBatch(context.Background(), dup)
		assert.ErrorIs(t, err, ErrUniqueViolation)

		got, err := s.Queries().GetBatchByDate(context.Background(), f.day)
		require.NoError(t, err)
		assert.Equal(t, f.batch.ID, got.ID)
		assert.True(t, got.Totals.TotalPayments.Equal(f.payment.Amount))
	})
}

func TestUnbatchedPaymentsAndAssignment(t *testing.T) {
	drivers(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		f := seed(t, s)
		from, to := DayBounds(f.day)

		err := s.RunInTx(ctx, func(q Querier) error {
			payments, err := q.ListUnbatchedPayments(ctx, from, to)
			require.NoError(t, err)
			require.Len(t, payments, 1)
			p := payments[0]
			assert.Equal(t, f.payment.ID, p.ID)
			assert.Equal(t, "percentage", p.AgentCommission.Kind)
			assert.True(t, p.AgentCommission.Value.Equal(decimal.RequireFromString("12.5")))
			assert.Nil(t, p.SuperAgentID)

			n, err := q.AssignPaymentsToBatch(ctx, f.batch.ID, []uuid.UUID{p.ID})
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			return nil
		})
		require.NoError(t, err)

		left, err := s.Queries().ListUnbatchedPayments(ctx, from, to)
		require.NoError(t, err)
		assert.Empty(t, left)
	})
}

func TestPayoutRoundTripAndQueries(t *testing.T) {
	drivers(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		f := seed(t, s)

		now := time.Now().UTC().Truncate(time.Microsecond)
		p := models.PayoutTransaction{
			ID:              uuid.New(),
			BatchID:         f.batch.ID,
			BeneficiaryID:   f.agent.ID,
			BeneficiaryType: "agent",
			Amount:          decimal.RequireFromString("154.32"),
			Status:          "pending",
			Provider:        "mpesa",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		require.NoError(t, q.InsertPayout(ctx, p))

		dup := p
		dup.ID = uuid.New()
		assert.ErrorIs(t, q.InsertPayout(ctx, dup), ErrUniqueViolation, "one row per beneficiary per batch")

		old := now.Add(-time.Hour)
		ref := p.ID.String() + "-1"
		p.Status = "in_progress"
		p.Attempts = 1
		p.LastAttemptAt = &old
		p.ConversationID = &ref
		p.ErrorDetails = map[string]any{"error": "timeout"}
		rows, err := q.UpdatePayout(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		got, err := q.GetPayoutByConversationID(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, "timeout", got.ErrorDetails["error"])
		require.NotNil(t, got.LastAttemptAt)
		assert.True(t, old.Equal(*got.LastAttemptAt))

		stale, err := q.ListStaleInProgressPayouts(ctx, now.Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Contains(t, ids(stale), p.ID)
		fresh, err := q.ListStaleInProgressPayouts(ctx, old.Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.NotContains(t, ids(fresh), p.ID)

		counts, err := q.CountPayoutsByStatus(ctx, f.batch.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"in_progress": 1}, counts)

		sum, err := q.SumPayoutAmounts(ctx, f.batch.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(15432), sum)

		details, err := q.ListPayoutDetails(ctx, f.batch.ID, "in_progress")
		require.NoError(t, err)
		require.Len(t, details, 1)
		assert.Equal(t, "Wanjiku", details[0].BeneficiaryName)
		assert.Equal(t, "254712345678", details[0].BeneficiaryPhone)

		none, err := q.ListPayouts(ctx, f.batch.ID, "completed")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestPayoutAttemptsResolveEveryReference(t *testing.T) {
	drivers(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		f := seed(t, s)

		now := time.Now().UTC().Truncate(time.Microsecond)
		p := models.PayoutTransaction{
			ID: uuid.New(), BatchID: f.batch.ID, BeneficiaryID: f.agent.ID, BeneficiaryType: "agent",
			Amount: decimal.RequireFromString("154.32"), Status: "pending", Provider: "mpesa",
			CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, q.InsertPayout(ctx, p))

		for attempt := 1; attempt <= 2; attempt++ {
			require.NoError(t, q.InsertPayoutAttempt(ctx, models.PayoutAttempt{
				Reference: p.ID.String() + "-" + string(rune('0'+attempt)),
				PayoutID:  p.ID,
				Attempt:   attempt,
				CreatedAt: now,
			}))
		}
		assert.ErrorIs(t, q.InsertPayoutAttempt(ctx, models.PayoutAttempt{
			Reference: p.ID.String() + "-1", PayoutID: p.ID, Attempt: 1, CreatedAt: now,
		}), ErrUniqueViolation)

		rows, err := q.SetPayoutAttemptConversation(ctx, p.ID.String()+"-1", "AG_20260310_0001")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		byConversation, err := q.GetPayoutAttempt(ctx, "AG_20260310_0001")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byConversation.PayoutID)
		assert.Equal(t, 1, byConversation.Attempt)

		byReference, err := q.GetPayoutAttempt(ctx, p.ID.String()+"-2")
		require.NoError(t, err)
		assert.Equal(t, 2, byReference.Attempt)
		assert.Nil(t, byReference.ConversationID)

		_, err = q.GetPayoutAttempt(ctx, "AG_unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBatchStateAndAudit(t *testing.T) {
	drivers(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		f := seed(t, s)

		actor := uuid.New()
		at := time.Now().UTC().Truncate(time.Microsecond)
		rows, err := q.UpdateBatchState(ctx, UpdateBatchStateParams{
			ID:           f.batch.ID,
			Status:       "processed",
			PayoutStatus: models.PayoutStatusSnapshot{Insurance: "completed", Administrative: "failed", Commissions: "partially_failed"},
			CategoryRefs: map[string]string{"insurance": "BANK-1"},
			Notes:        "force closed",
			ProcessedBy:  &actor,
			ProcessedAt:  &at,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		got, err := q.GetBatch(ctx, f.batch.ID)
		require.NoError(t, err)
		assert.Equal(t, "processed", got.Status)
		assert.Equal(t, "partially_failed", got.PayoutStatus.Commissions)
		assert.Equal(t, "BANK-1", got.CategoryRefs["insurance"])
		require.NotNil(t, got.ProcessedBy)
		assert.Equal(t, actor, *got.ProcessedBy)

		processed, err := q.ListBatches(ctx, ListBatchesParams{Status: "processed", Limit: 500})
		require.NoError(t, err)
		assert.Contains(t, batchIDs(processed), f.batch.ID)

		prev, next := "open", "processed"
		for _, action := range []string{"generated", "processed"} {
			require.NoError(t, q.InsertAuditLog(ctx, InsertAuditLogParams{
				EntityType: "settlement",
				EntityID:   f.batch.ID,
				ActorID:    &actor,
				Action:     action,
				PrevState:  &prev,
				NextState:  &next,
				Metadata:   []byte(`{"notes":"force closed"}`),
			}))
		}
		entries, err := q.ListAuditLog(ctx, "settlement", f.batch.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "generated", entries[0].Action)
		assert.Equal(t, "processed", entries[1].Action)
		assert.JSONEq(t, `{"notes":"force closed"}`, string(entries[1].Metadata))
	})
}

func ids(rows []models.PayoutTransaction) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func batchIDs(rows []models.SettlementBatch) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}
